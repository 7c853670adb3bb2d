package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

type LogCategory string

// Severity labels for order log lines. They are presentation hints for
// downstream consumers; the queue itself only stores them.
const (
	LogDebug    = LogCategory("debug")
	LogInfo     = LogCategory("info")
	LogWarning  = LogCategory("warning")
	LogError    = LogCategory("error")
	LogCritical = LogCategory("critical")
)

// An OrderLog is one line in an Order's append-only audit trail. Lines are
// never mutated or deleted, and are read back in registered_on order.
type OrderLog struct {
	ID           int64       `json:"id"`
	OrderID      int64       `json:"order_id"`
	RegisteredOn time.Time   `json:"registered_on"`
	Category     LogCategory `json:"category"`
	Line         string      `json:"line"`
}

// Scan implements the Scanner interface.
func (c *LogCategory) Scan(src interface{}) error {
	if src == nil {
		return nil
	} else if txt, ok := src.(string); ok {
		*c = LogCategory(txt)
		return nil
	} else if txt, ok := src.([]byte); ok {
		*c = LogCategory(string(txt))
		return nil
	}
	return fmt.Errorf("Unsupported LogCategory: %#v", src)
}

func (c LogCategory) Value() (driver.Value, error) {
	return string(c), nil
}
