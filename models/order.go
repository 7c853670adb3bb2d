package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	types "github.com/Shyp/go-types"
)

type OrderStatus string

// StatusNew indicates an Order that has been published to a channel and not
// been picked up by any worker.
const StatusNew = OrderStatus("new")

// StatusWorking indicates an Order with an open worker lease.
const StatusWorking = OrderStatus("working")

// StatusFinished indicates a worker reported exit code 0 for the Order.
const StatusFinished = OrderStatus("finished")

// StatusError indicates the most recent worker reported a nonzero exit
// code. Orders in this state may be reserved again.
const StatusError = OrderStatus("error")

// An Order is a unit of work published to a channel. Workers reserve orders
// one at a time, oldest first, and report the outcome through the result
// callback.
type Order struct {
	ID           int64           `json:"id"`
	UUID         string          `json:"uuid"`
	RegisteredOn time.Time       `json:"registered_on"`
	StartTime    types.NullTime  `json:"start_time"`
	FinishTime   types.NullTime  `json:"finish_time"`
	Title        string          `json:"title"`
	Channel      string          `json:"channel"`
	Payload      json.RawMessage `json:"payload"`
	Status       OrderStatus     `json:"status"`
}

// An ArchiveKey names the work product an Order is expected to produce. It
// is the one part of the payload document the queue reads structurally.
type ArchiveKey struct {
	Source string `json:"source"`
	Name   string `json:"name"`
}

type payloadEnvelope struct {
	Archive *ArchiveKey `json:"archive"`
}

// ArchiveKey extracts the archive source/name pair from the Order payload.
// The second return value is false if the payload carries no archive
// document, or an incomplete one.
func (o *Order) ArchiveKey() (ArchiveKey, bool) {
	var env payloadEnvelope
	if err := json.Unmarshal(o.Payload, &env); err != nil {
		return ArchiveKey{}, false
	}
	if env.Archive == nil || env.Archive.Source == "" || env.Archive.Name == "" {
		return ArchiveKey{}, false
	}
	return *env.Archive, true
}

// Scan implements the Scanner interface.
func (s *OrderStatus) Scan(src interface{}) error {
	if src == nil {
		return nil
	} else if txt, ok := src.(string); ok {
		*s = OrderStatus(txt)
		return nil
	} else if txt, ok := src.([]byte); ok {
		*s = OrderStatus(string(txt))
		return nil
	}
	return fmt.Errorf("Unsupported OrderStatus: %#v", src)
}

func (s OrderStatus) Value() (driver.Value, error) {
	return string(s), nil
}
