// Mediation layer between the server and database queries.
//
// Logic that's not related to validating request input/turning errors into
// HTTP responses should go here. Every operation that touches more than one
// table runs in a single transaction.
package services

import (
	"database/sql"
	"fmt"
	"time"

	metrics "github.com/Shyp/go-simple-metrics"
	"github.com/ewasser/orderd/models"
	"github.com/ewasser/orderd/models/db"
	"github.com/ewasser/orderd/models/order_logs"
	"github.com/ewasser/orderd/models/orders"
	"github.com/ewasser/orderd/models/workers"
	"github.com/google/uuid"
)

// A Reservation is the result of a successful new->working transition: the
// locked order, the freshly opened lease, and the token the worker must
// present when reporting the result.
type Reservation struct {
	Order  *models.Order
	Worker *models.Worker
}

// Token returns the callback token for the reservation.
func (r *Reservation) Token() string {
	return r.Worker.UUID
}

// Reserve hands the oldest eligible order on the channel to the named
// worker. Selection, the eligibility re-check and all three writes (order
// update, lease insert, log append) commit as one unit.
//
// Returns ErrNoCandidates when the channel has no reservable order, and
// ErrReservationConflict when a concurrent caller reserved the candidate
// first.
func Reserve(channel string, workerName string, originIP string) (*Reservation, error) {
	verr := new(ValidationError)
	if channel == "" {
		verr.Add("channel", "Shorter than minimum length 1.")
	}
	if workerName == "" {
		verr.Add("name", "Shorter than minimum length 1.")
	}
	if !verr.Empty() {
		return nil, verr
	}

	start := time.Now()
	defer func() { go metrics.Time("reserve.latency", time.Since(start)) }()

	tx, err := db.Conn.Begin()
	if err != nil {
		return nil, err
	}

	id, err := orders.ReserveCandidate(tx, channel)
	if err != nil {
		tx.Rollback()
		if err == sql.ErrNoRows {
			go metrics.Increment("reserve.empty")
			return nil, ErrNoCandidates
		}
		return nil, err
	}

	// The candidate query already excludes orders with an open lease, but
	// re-check the latest lease under its own row lock: the lease table is
	// what the result callback writes to, and an open or just-closed lease
	// must veto the transition.
	latest, err := workers.GetLatestForUpdate(tx, id)
	if err != nil && err != workers.ErrNotFound {
		tx.Rollback()
		return nil, err
	}
	if err == nil {
		if latest.Open() {
			tx.Rollback()
			go metrics.Increment("reserve.conflict")
			return nil, ErrReservationConflict
		}
		if latest.ExitCode.Valid && latest.ExitCode.Int64 == 0 {
			// The last lease succeeded, so the order must have left "new";
			// the guarded update below would refuse it anyway.
			tx.Rollback()
			go metrics.Increment("reserve.conflict")
			return nil, ErrReservationConflict
		}
	}

	now := time.Now().UTC()
	order, err := orders.MarkWorking(tx, id, now)
	if err != nil {
		tx.Rollback()
		if err == sql.ErrNoRows {
			go metrics.Increment("reserve.conflict")
			return nil, ErrReservationConflict
		}
		return nil, err
	}

	lease, err := workers.Insert(tx, id, uuid.NewString(), workerName, originIP, now)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	line := fmt.Sprintf("Reserved by %q from %s", workerName, originIP)
	if _, err := order_logs.AppendTx(tx, id, models.LogInfo, line); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	go metrics.Increment("reserve.success")
	go metrics.Increment(fmt.Sprintf("reserve.%s.success", channel))
	return &Reservation{Order: order, Worker: lease}, nil
}
