package services

import (
	"fmt"
	"time"

	metrics "github.com/Shyp/go-simple-metrics"
	"github.com/ewasser/orderd/models"
	"github.com/ewasser/orderd/models/archives"
	"github.com/ewasser/orderd/models/db"
	"github.com/ewasser/orderd/models/order_logs"
	"github.com/ewasser/orderd/models/orders"
	"github.com/ewasser/orderd/models/workers"
)

// HandleResult closes the lease identified by token and transitions its
// order: exit code 0 means "finished" (finish_time set), anything else
// means "error" (finish_time left null so a successful retry can set it).
// The lease close, the order transition, the archive marker and the log
// line commit as one unit.
//
// Returns workers.ErrNotFound for an unknown token and ErrAlreadyReported
// if the lease has already been closed; a duplicate report mutates nothing.
func HandleResult(token string, exitCode int64, output string) (*models.Order, error) {
	start := time.Now()
	defer func() { go metrics.Time("result.latency", time.Since(start)) }()

	tx, err := db.Conn.Begin()
	if err != nil {
		return nil, err
	}

	lease, err := workers.GetForUpdate(tx, token)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if !lease.Open() {
		tx.Rollback()
		go metrics.Increment("result.duplicate")
		return nil, ErrAlreadyReported
	}

	now := time.Now().UTC()
	if _, err := workers.Close(tx, lease.ID, now, output, exitCode); err != nil {
		tx.Rollback()
		return nil, err
	}

	var order *models.Order
	if exitCode == 0 {
		order, err = orders.MarkFinished(tx, lease.OrderID, now)
	} else {
		order, err = orders.MarkError(tx, lease.OrderID)
	}
	if err != nil {
		// An open lease implies a "working" order, so the guarded updates
		// cannot miss unless the tables were edited by hand.
		tx.Rollback()
		return nil, fmt.Errorf("services: order %d has an open lease but is not working: %s", lease.OrderID, err)
	}

	line := fmt.Sprintf("Worker %q finished with exit code %d", lease.Name, exitCode)
	category := models.LogInfo
	if exitCode != 0 {
		category = models.LogError
	}
	if _, err := order_logs.AppendTx(tx, order.ID, category, line); err != nil {
		tx.Rollback()
		return nil, err
	}

	if key, ok := order.ArchiveKey(); ok {
		if _, err := archives.Upsert(tx, key.Source, key.Name); err != nil {
			tx.Rollback()
			return nil, err
		}
	} else {
		line := "Payload carries no archive source/name, skipping archive record"
		if _, err := order_logs.AppendTx(tx, order.ID, models.LogWarning, line); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	if exitCode == 0 {
		go metrics.Increment("result.success")
	} else {
		go metrics.Increment("result.failed")
	}
	return order, nil
}
