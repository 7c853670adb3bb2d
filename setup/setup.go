// Setup helps initialize applications.
package setup

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	metrics "github.com/Shyp/go-simple-metrics"
	"github.com/ewasser/orderd/models"
	"github.com/ewasser/orderd/models/archives"
	"github.com/ewasser/orderd/models/db"
	"github.com/ewasser/orderd/models/order_logs"
	"github.com/ewasser/orderd/models/orders"
	"github.com/ewasser/orderd/models/workers"
)

var mu sync.Mutex

// TODO not sure for the best place for this to live.
var activeQueriesStmt *sql.Stmt
var backlogStmt *sql.Stmt

func prepare() (err error) {
	if !db.Connected() {
		return errors.New("No DB connection was established, can't query")
	}

	activeQueriesStmt, err = db.Conn.Prepare(`-- setup.GetActiveQueries
SELECT count(*) FROM pg_stat_activity
WHERE state='active'
	`)
	if err != nil {
		return err
	}

	backlogStmt, err = db.Conn.Prepare(fmt.Sprintf(`-- setup.CountBacklog
WITH new_count AS (
	SELECT count(*) FROM orders WHERE status='%s'
), open_count AS (
	SELECT count(*) FROM workers WHERE finish_time IS NULL
)
SELECT new_count.count, open_count.count
FROM new_count, open_count`, models.StatusNew))
	return
}

// DefaultConnection connects to a Postgres database using the DATABASE_URL
// environment variable.
var DefaultConnection = &DatabaseURLConnector{}

// DatabaseURLConnector connects to the database using the DATABASE_URL
// environment variable.
type DatabaseURLConnector struct {
	mu sync.Mutex
}

// Connect to the database using the DATABASE_URL environment variable with the
// given number of database connections, and store the result in conn.
func (dc *DatabaseURLConnector) Connect(conn *sql.DB, dbConns int) error {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	if conn == nil {
		return errors.New("setup: Cannot assign to nil conn")
	}
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		return errors.New("setup: No value provided for DATABASE_URL, cannot connect")
	}
	d, err := sql.Open("postgres", url)
	if err != nil {
		return err
	}
	d.SetMaxOpenConns(dbConns)
	if dbConns > 100 {
		d.SetMaxIdleConns(dbConns - 20)
	} else if dbConns > 50 {
		d.SetMaxIdleConns(dbConns - 10)
	} else if dbConns > 10 {
		d.SetMaxIdleConns(dbConns - 3)
	} else if dbConns > 5 {
		d.SetMaxIdleConns(dbConns - 2)
	}
	*conn = *d
	return nil
}

func GetActiveQueries() (count int64, err error) {
	err = activeQueriesStmt.QueryRow().Scan(&count)
	return
}

// CountBacklog returns the number of unreserved new orders and the number
// of open leases across all channels.
func CountBacklog() (newCount int64, openLeases int64, err error) {
	err = backlogStmt.QueryRow().Scan(&newCount, &openLeases)
	return
}

// TODO all of these should use a different database connection than the server
// or the worker, to avoid contention.
func MeasureActiveQueries(interval time.Duration) {
	for range time.Tick(interval) {
		count, err := GetActiveQueries()
		if err == nil {
			go metrics.Measure("active_queries.count", count)
		} else {
			go metrics.Increment("active_queries.error")
		}
	}
}

// MeasureBacklog reports queue-depth gauges: new orders waiting for a
// worker, and leases that have not reported back yet.
func MeasureBacklog(interval time.Duration) {
	for range time.Tick(interval) {
		newCount, openLeases, err := CountBacklog()
		if err == nil {
			go metrics.Measure("backlog.new", newCount)
			go metrics.Measure("backlog.open_leases", openLeases)
		} else {
			go metrics.Increment("backlog.error")
		}
	}
}

// MeasureWorkingOrders reports a per-channel gauge of orders currently
// under an open lease.
func MeasureWorkingOrders(interval time.Duration) {
	for range time.Tick(interval) {
		m, err := orders.GetCountsByStatus(models.StatusWorking)
		if err == nil {
			count := int64(0)
			for k, v := range m {
				count += v
				go metrics.Measure(fmt.Sprintf("orders.%s.working", k), v)
			}
			go metrics.Measure("orders.working", count)
		} else {
			go metrics.Increment("orders.working.error")
		}
	}
}

// DB initializes a connection to the database, and prepares queries on all
// models.
func DB(connector db.Connector, dbConns int) error {
	mu.Lock()
	defer mu.Unlock()
	if db.Conn == nil {
		db.Conn = &sql.DB{}
	} else {
		if err := db.Conn.Ping(); err == nil {
			// Already connected.
			return nil
		}
	}
	if err := connector.Connect(db.Conn, dbConns); err != nil {
		return errors.New("Could not establish a database connection: " + err.Error())
	}
	if err := db.Conn.Ping(); err != nil {
		return errors.New("Could not establish a database connection: " + err.Error())
	}
	return PrepareAll()
}

func PrepareAll() error {
	if err := orders.Setup(); err != nil {
		return err
	}
	if err := workers.Setup(); err != nil {
		return err
	}
	if err := order_logs.Setup(); err != nil {
		return err
	}
	if err := archives.Setup(); err != nil {
		return err
	}
	if err := prepare(); err != nil {
		return err
	}
	return nil
}
