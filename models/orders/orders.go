// Logic for interacting with the "orders" table.
package orders

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	dberror "github.com/Shyp/go-dberror"
	"github.com/ewasser/orderd/models"
	"github.com/ewasser/orderd/models/db"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

func init() {
	dberror.RegisterConstraint(titleConstraint)
	dberror.RegisterConstraint(channelConstraint)
}

// ErrNotFound indicates that the order was not found.
var ErrNotFound = errors.New("Order not found")

var createStmt *sql.Stmt
var getStmt *sql.Stmt
var getByUUIDStmt *sql.Stmt
var listStmt *sql.Stmt
var listAllStmt *sql.Stmt
var pendingStmt *sql.Stmt
var countsByStatusStmt *sql.Stmt
var deleteStmt *sql.Stmt

// PendingLimit is the maximum number of dispatch candidates to fetch in one
// database query.
var PendingLimit = 100

var numericID = regexp.MustCompile(`^\d+$`)

func Setup() (err error) {
	if !db.Connected() {
		return errors.New("No DB connection was established, can't query")
	}

	if createStmt != nil {
		return
	}

	query := fmt.Sprintf(`-- orders.Create
INSERT INTO orders (uuid, registered_on, title, channel, payload, status)
VALUES ($1, $2, $3, $4, $5, '%s')
RETURNING %s`, models.StatusNew, fields())
	createStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- orders.Get
SELECT %s
FROM orders
WHERE id = $1`, fields())
	getStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- orders.GetByUUID
SELECT %s
FROM orders
WHERE uuid = $1`, fields())
	getByUUIDStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- orders.List
SELECT %s
FROM orders
WHERE status = $1
ORDER BY registered_on DESC, id DESC`, fields())
	listStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- orders.ListAll
SELECT %s
FROM orders
ORDER BY registered_on DESC, id DESC`, fields())
	listAllStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- orders.Pending
SELECT %[1]s
FROM orders
WHERE channel = $1
	AND status IN ('%[2]s', '%[3]s')
	AND NOT EXISTS (
		SELECT 1 FROM workers
		WHERE workers.order_id = orders.id
		AND workers.finish_time IS NULL
	)
ORDER BY registered_on ASC, id ASC
LIMIT %[4]d`, fields(), models.StatusNew, models.StatusError, PendingLimit)
	pendingStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = `-- orders.GetCountsByStatus
SELECT channel, count(*) FROM orders WHERE status=$1 GROUP BY channel`
	countsByStatusStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = `-- orders.Delete
	DELETE FROM orders WHERE id = $1`
	deleteStmt, err = db.Conn.Prepare(query)
	return
}

// Create inserts a new order on the given channel with status "new" and a
// fresh random uuid. A dberror.Error will be returned if Postgres returns a
// constraint failure - empty title or channel, payload not a JSON document.
func Create(title string, channel string, payload json.RawMessage) (*models.Order, error) {
	o := new(models.Order)
	// need to scan into a []byte, https://github.com/golang/go/issues/13905
	var bt []byte
	registeredOn := time.Now().UTC()
	err := createStmt.QueryRow(uuid.NewString(), registeredOn, title, channel, []byte(payload)).Scan(args(o, &bt)...)
	if err != nil {
		return nil, dberror.GetError(err)
	}
	o.Payload = json.RawMessage(bt)
	return o, nil
}

// Get the order with the given id. If no record could be found, the error
// will be `orders.ErrNotFound`.
func Get(id int64) (*models.Order, error) {
	o := new(models.Order)
	var bt []byte
	err := getStmt.QueryRow(id).Scan(args(o, &bt)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, dberror.GetError(err)
	}
	o.Payload = json.RawMessage(bt)
	return o, nil
}

// GetByUUID returns the order with the given external uuid, or ErrNotFound.
func GetByUUID(id string) (*models.Order, error) {
	o := new(models.Order)
	var bt []byte
	err := getByUUIDStmt.QueryRow(id).Scan(args(o, &bt)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, dberror.GetError(err)
	}
	o.Payload = json.RawMessage(bt)
	return o, nil
}

// Resolve accepts either a numeric id or a uuid string. An all-digit
// identifier is looked up by id; everything else by uuid.
func Resolve(identifier string) (*models.Order, error) {
	if numericID.MatchString(identifier) {
		var id int64
		if _, err := fmt.Sscan(identifier, &id); err != nil {
			return nil, ErrNotFound
		}
		return Get(id)
	}
	return GetByUUID(identifier)
}

// GetRetry attempts to retrieve the order attempts times before giving up.
func GetRetry(identifier string, attempts uint8) (order *models.Order, err error) {
	for i := uint8(0); i < attempts; i++ {
		order, err = Resolve(identifier)
		if err == nil || err == ErrNotFound {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	return
}

// List returns orders with the given status, newest first. The status "all"
// returns every order.
func List(status string) ([]*models.Order, error) {
	var rows *sql.Rows
	var err error
	if status == "all" {
		rows, err = listAllStmt.Query()
	} else {
		rows, err = listStmt.Query(status)
	}
	if err != nil {
		return nil, dberror.GetError(err)
	}
	return scanOrders(rows)
}

// Pending returns dispatch candidates for the given channel: orders that a
// reservation call could hand out right now, oldest first. An empty channel
// queue yields an empty slice.
func Pending(channel string) ([]*models.Order, error) {
	rows, err := pendingStmt.Query(channel)
	if err != nil {
		return nil, dberror.GetError(err)
	}
	return scanOrders(rows)
}

// GetCountsByStatus returns a map with each channel as the key, followed by
// the number of <status> orders it has. For example:
//
// "youtube/video": 5,
// "backup/nightly": 7,
func GetCountsByStatus(status models.OrderStatus) (map[string]int64, error) {
	rows, err := countsByStatusStmt.Query(status)
	m := make(map[string]int64)
	if err != nil {
		return m, err
	}
	defer rows.Close()
	for rows.Next() {
		var channel string
		var count int64
		if err := rows.Scan(&channel, &count); err != nil {
			return m, err
		}
		m[channel] = count
	}
	err = rows.Err()
	return m, err
}

// Delete removes the given order. Leases and log lines cascade in the
// database. Orders are never deleted by the protocol itself; this is an
// operator action.
func Delete(id int64) error {
	res, err := deleteStmt.Exec(id)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	} else if rows == 1 {
		return nil
	} else {
		// This should not be possible because of database constraints
		return fmt.Errorf("Multiple rows (%d) deleted for order %d, please investigate", rows, id)
	}
}

// ReserveCandidate locks and returns the id of the oldest reservable order
// on the channel inside tx: status new or error, no open lease. SKIP LOCKED
// makes a concurrent caller fall through to the next candidate instead of
// blocking on the row, so lock waits stay bounded. Returns sql.ErrNoRows if
// the channel has no eligible order.
func ReserveCandidate(tx *sql.Tx, channel string) (int64, error) {
	query := fmt.Sprintf(`-- orders.ReserveCandidate
SELECT id
FROM orders
WHERE channel = $1
	AND status IN ('%s', '%s')
	AND NOT EXISTS (
		SELECT 1 FROM workers
		WHERE workers.order_id = orders.id
		AND workers.finish_time IS NULL
	)
ORDER BY registered_on ASC, id ASC
LIMIT 1
FOR UPDATE SKIP LOCKED`, models.StatusNew, models.StatusError)
	var id int64
	err := tx.QueryRow(query, channel).Scan(&id)
	return id, err
}

// MarkWorking flips the order to "working" inside tx. The status guard is
// the compare-and-swap half of the reservation: if another transaction got
// there first the update matches no row and sql.ErrNoRows is returned.
// start_time is set only on the first acceptance; a retry keeps the
// original value.
func MarkWorking(tx *sql.Tx, id int64, startTime time.Time) (*models.Order, error) {
	o := new(models.Order)
	var bt []byte
	query := fmt.Sprintf(`-- orders.MarkWorking
UPDATE orders
SET status = '%s',
	start_time = COALESCE(start_time, $2)
WHERE id = $1
	AND status IN ('%s', '%s')
RETURNING %s`, models.StatusWorking, models.StatusNew, models.StatusError, fields())
	err := tx.QueryRow(query, id, startTime).Scan(args(o, &bt)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, dberror.GetError(err)
	}
	o.Payload = json.RawMessage(bt)
	return o, nil
}

// MarkFinished closes the order successfully inside tx. Only a "working"
// order can finish; sql.ErrNoRows means the state machine was violated.
func MarkFinished(tx *sql.Tx, id int64, finishTime time.Time) (*models.Order, error) {
	o := new(models.Order)
	var bt []byte
	query := fmt.Sprintf(`-- orders.MarkFinished
UPDATE orders
SET status = '%s',
	finish_time = $2
WHERE id = $1
	AND status = '%s'
RETURNING %s`, models.StatusFinished, models.StatusWorking, fields())
	err := tx.QueryRow(query, id, finishTime).Scan(args(o, &bt)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, dberror.GetError(err)
	}
	o.Payload = json.RawMessage(bt)
	return o, nil
}

// MarkError records a failed attempt inside tx. finish_time stays null so a
// later successful retry can set it, matching the start_time semantics.
func MarkError(tx *sql.Tx, id int64) (*models.Order, error) {
	o := new(models.Order)
	var bt []byte
	query := fmt.Sprintf(`-- orders.MarkError
UPDATE orders
SET status = '%s'
WHERE id = $1
	AND status = '%s'
RETURNING %s`, models.StatusError, models.StatusWorking, fields())
	err := tx.QueryRow(query, id).Scan(args(o, &bt)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, dberror.GetError(err)
	}
	o.Payload = json.RawMessage(bt)
	return o, nil
}

func scanOrders(rows *sql.Rows) ([]*models.Order, error) {
	defer rows.Close()
	orders := []*models.Order{}
	for rows.Next() {
		o := new(models.Order)
		var bt []byte
		if err := rows.Scan(args(o, &bt)...); err != nil {
			return orders, err
		}
		o.Payload = json.RawMessage(bt)
		orders = append(orders, o)
	}
	err := rows.Err()
	return orders, err
}

func fields() string {
	return `id,
	uuid,
	registered_on,
	start_time,
	finish_time,
	title,
	channel,
	payload,
	status`
}

func args(o *models.Order, byteptr *[]byte) []interface{} {
	return []interface{}{
		&o.ID,
		&o.UUID,
		&o.RegisteredOn,
		&o.StartTime,
		&o.FinishTime,
		&o.Title,
		&o.Channel,
		// can't scan into Payload because of https://github.com/golang/go/issues/13905
		byteptr,
		&o.Status,
	}
}

var titleConstraint = &dberror.Constraint{
	Name: "orders_title_check",
	GetError: func(e *pq.Error) *dberror.Error {
		return &dberror.Error{
			Message:    "Title must not be empty",
			Constraint: e.Constraint,
			Table:      e.Table,
			Severity:   e.Severity,
			Detail:     e.Detail,
		}
	},
}

var channelConstraint = &dberror.Constraint{
	Name: "orders_channel_check",
	GetError: func(e *pq.Error) *dberror.Error {
		return &dberror.Error{
			Message:    "Channel must not be empty",
			Constraint: e.Constraint,
			Table:      e.Table,
			Severity:   e.Severity,
			Detail:     e.Detail,
		}
	},
}
