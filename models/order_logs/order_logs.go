// Logic for interacting with the "order_logs" table, the append-only audit
// trail attached to every order.
package order_logs

import (
	"database/sql"
	"errors"
	"fmt"

	dberror "github.com/Shyp/go-dberror"
	"github.com/ewasser/orderd/models"
	"github.com/ewasser/orderd/models/db"
)

var appendStmt *sql.Stmt
var listStmt *sql.Stmt

func Setup() (err error) {
	if !db.Connected() {
		return errors.New("No DB connection was established, can't query")
	}

	if appendStmt != nil {
		return
	}

	query := fmt.Sprintf(`-- order_logs.Append
INSERT INTO order_logs (order_id, category, line)
VALUES ($1, $2, $3)
RETURNING %s`, fields())
	appendStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- order_logs.List
SELECT %s
FROM order_logs
WHERE order_id = $1
ORDER BY registered_on ASC, id ASC`, fields())
	listStmt, err = db.Conn.Prepare(query)
	return
}

// Append inserts one log line for the order. Lines are never updated or
// deleted afterwards.
func Append(orderID int64, category models.LogCategory, line string) (*models.OrderLog, error) {
	ol := new(models.OrderLog)
	err := appendStmt.QueryRow(orderID, category, line).Scan(args(ol)...)
	if err != nil {
		return nil, dberror.GetError(err)
	}
	return ol, nil
}

// AppendTx is Append inside an existing transaction.
func AppendTx(tx *sql.Tx, orderID int64, category models.LogCategory, line string) (*models.OrderLog, error) {
	ol := new(models.OrderLog)
	query := fmt.Sprintf(`-- order_logs.AppendTx
INSERT INTO order_logs (order_id, category, line)
VALUES ($1, $2, $3)
RETURNING %s`, fields())
	err := tx.QueryRow(query, orderID, category, line).Scan(args(ol)...)
	if err != nil {
		return nil, dberror.GetError(err)
	}
	return ol, nil
}

// List returns the order's log lines in the order they were written.
func List(orderID int64) ([]*models.OrderLog, error) {
	rows, err := listStmt.Query(orderID)
	if err != nil {
		return nil, dberror.GetError(err)
	}
	defer rows.Close()
	lines := []*models.OrderLog{}
	for rows.Next() {
		ol := new(models.OrderLog)
		if err := rows.Scan(args(ol)...); err != nil {
			return lines, err
		}
		lines = append(lines, ol)
	}
	err = rows.Err()
	return lines, err
}

func fields() string {
	return `id,
	order_id,
	registered_on,
	category,
	line`
}

func args(ol *models.OrderLog) []interface{} {
	return []interface{}{
		&ol.ID,
		&ol.OrderID,
		&ol.RegisteredOn,
		&ol.Category,
		&ol.Line,
	}
}
