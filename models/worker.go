package models

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"time"

	types "github.com/Shyp/go-types"
)

// A Worker is one lease on an Order: it is opened by a reservation and
// closed exactly once, by the matching result callback. The UUID doubles as
// the callback token, so it must never appear anywhere except the
// reservation response handed to the worker that owns it.
//
// A lease is open while FinishTime is null. An Order has at most one open
// lease at any instant.
type Worker struct {
	ID         int64            `json:"id"`
	OrderID    int64            `json:"order_id"`
	UUID       string           `json:"uuid"`
	StartTime  time.Time        `json:"start_time"`
	FinishTime types.NullTime   `json:"finish_time"`
	Name       string           `json:"name"`
	IP         string           `json:"ip"`
	Output     types.NullString `json:"output"`
	ExitCode   NullInt64        `json:"exit_code"`
}

// Open reports whether the lease is still waiting for its result.
func (w *Worker) Open() bool {
	return !w.FinishTime.Valid
}

// A NullInt64 is an int64 that may be null. It can be encoded or decoded
// from JSON or the database.
type NullInt64 struct {
	Valid bool
	Int64 int64
}

// Scan implements the Scanner interface.
func (ni *NullInt64) Scan(value interface{}) error {
	var n sql.NullInt64
	if err := n.Scan(value); err != nil {
		return err
	}
	ni.Valid, ni.Int64 = n.Valid, n.Int64
	return nil
}

// Value implements the driver.Valuer interface.
func (ni NullInt64) Value() (driver.Value, error) {
	if !ni.Valid {
		return nil, nil
	}
	return ni.Int64, nil
}

func (ni NullInt64) MarshalJSON() ([]byte, error) {
	if !ni.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(ni.Int64)
}

func (ni *NullInt64) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		ni.Valid = false
		return nil
	}
	if err := json.Unmarshal(b, &ni.Int64); err != nil {
		return err
	}
	ni.Valid = true
	return nil
}
