// Logic for interacting with the "workers" table. Rows here are leases: one
// attempt by a named worker to execute an order.
package workers

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	dberror "github.com/Shyp/go-dberror"
	"github.com/ewasser/orderd/models"
	"github.com/ewasser/orderd/models/db"
)

// ErrNotFound indicates that no lease exists with the given token.
var ErrNotFound = errors.New("Worker lease not found")

var getByUUIDStmt *sql.Stmt
var getLatestStmt *sql.Stmt
var listByOrderStmt *sql.Stmt

func Setup() (err error) {
	if !db.Connected() {
		return errors.New("No DB connection was established, can't query")
	}

	if getByUUIDStmt != nil {
		return
	}

	query := fmt.Sprintf(`-- workers.GetByUUID
SELECT %s
FROM workers
WHERE uuid = $1`, fields())
	getByUUIDStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- workers.GetLatest
SELECT %s
FROM workers
WHERE order_id = $1
ORDER BY start_time DESC, id DESC
LIMIT 1`, fields())
	getLatestStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- workers.ListByOrder
SELECT %s
FROM workers
WHERE order_id = $1
ORDER BY start_time ASC, id ASC`, fields())
	listByOrderStmt, err = db.Conn.Prepare(query)
	return
}

// GetByUUID returns the lease with the given callback token, or ErrNotFound.
func GetByUUID(id string) (*models.Worker, error) {
	w := new(models.Worker)
	err := getByUUIDStmt.QueryRow(id).Scan(args(w)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, dberror.GetError(err)
	}
	return w, nil
}

// GetLatest returns the most recent lease for the given order, or
// ErrNotFound if the order has never been reserved.
func GetLatest(orderID int64) (*models.Worker, error) {
	w := new(models.Worker)
	err := getLatestStmt.QueryRow(orderID).Scan(args(w)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, dberror.GetError(err)
	}
	return w, nil
}

// ListByOrder returns every lease ever opened for the order, oldest first.
func ListByOrder(orderID int64) ([]*models.Worker, error) {
	rows, err := listByOrderStmt.Query(orderID)
	if err != nil {
		return nil, dberror.GetError(err)
	}
	defer rows.Close()
	leases := []*models.Worker{}
	for rows.Next() {
		w := new(models.Worker)
		if err := rows.Scan(args(w)...); err != nil {
			return leases, err
		}
		leases = append(leases, w)
	}
	err = rows.Err()
	return leases, err
}

// Insert opens a new lease inside tx. The partial unique index on open
// leases turns a double-reservation into a constraint failure, which is
// surfaced as a dberror.Error with CodeUniqueViolation.
func Insert(tx *sql.Tx, orderID int64, token string, name string, ip string, startTime time.Time) (*models.Worker, error) {
	w := new(models.Worker)
	query := fmt.Sprintf(`-- workers.Insert
INSERT INTO workers (order_id, uuid, start_time, name, ip)
VALUES ($1, $2, $3, $4, $5)
RETURNING %s`, fields())
	err := tx.QueryRow(query, orderID, token, startTime, name, ip).Scan(args(w)...)
	if err != nil {
		return nil, dberror.GetError(err)
	}
	return w, nil
}

// GetForUpdate locks and returns the lease with the given callback token
// inside tx.
func GetForUpdate(tx *sql.Tx, token string) (*models.Worker, error) {
	w := new(models.Worker)
	query := fmt.Sprintf(`-- workers.GetForUpdate
SELECT %s
FROM workers
WHERE uuid = $1
FOR UPDATE`, fields())
	err := tx.QueryRow(query, token).Scan(args(w)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, dberror.GetError(err)
	}
	return w, nil
}

// GetLatestForUpdate locks and returns the most recent lease for the order
// inside tx, or ErrNotFound.
func GetLatestForUpdate(tx *sql.Tx, orderID int64) (*models.Worker, error) {
	w := new(models.Worker)
	query := fmt.Sprintf(`-- workers.GetLatestForUpdate
SELECT %s
FROM workers
WHERE order_id = $1
ORDER BY start_time DESC, id DESC
LIMIT 1
FOR UPDATE`, fields())
	err := tx.QueryRow(query, orderID).Scan(args(w)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, dberror.GetError(err)
	}
	return w, nil
}

// Close records the result for an open lease inside tx. The finish_time
// guard makes the close a compare-and-swap: a lease that has already been
// closed is not written again, and sql.ErrNoRows is returned.
func Close(tx *sql.Tx, id int64, finishTime time.Time, output string, exitCode int64) (*models.Worker, error) {
	w := new(models.Worker)
	query := fmt.Sprintf(`-- workers.Close
UPDATE workers
SET finish_time = $2,
	output = $3,
	exit_code = $4
WHERE id = $1
	AND finish_time IS NULL
RETURNING %s`, fields())
	err := tx.QueryRow(query, id, finishTime, output, exitCode).Scan(args(w)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, dberror.GetError(err)
	}
	return w, nil
}

func fields() string {
	return `id,
	order_id,
	uuid,
	start_time,
	finish_time,
	name,
	ip,
	output,
	exit_code`
}

func args(w *models.Worker) []interface{} {
	return []interface{}{
		&w.ID,
		&w.OrderID,
		&w.UUID,
		&w.StartTime,
		&w.FinishTime,
		&w.Name,
		&w.IP,
		&w.Output,
		&w.ExitCode,
	}
}
