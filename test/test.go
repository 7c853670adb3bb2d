// Helpers for tests that hit the database.
package test

import (
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/ewasser/orderd/models/db"
	"github.com/ewasser/orderd/setup"
)

func SetUp(t testing.TB) {
	t.Helper()
	if os.Getenv("DATABASE_URL") == "" {
		os.Setenv("DATABASE_URL", "postgres://orderd@localhost:5432/orderd_test?sslmode=disable&timezone=UTC")
	}
	if err := setup.DB(setup.DefaultConnection, 10); err != nil {
		t.Fatal(err)
	}
	if err := db.CreateTables(); err != nil {
		t.Fatal(err)
	}
}

// TruncateTables deletes all records from the database.
func TruncateTables(t testing.TB) error {
	getTableDelete := func(table string) string {
		return "DELETE FROM " + table
	}
	var name string
	if t == nil {
		name = "TruncateTables"
	} else {
		name = t.Name()
	}
	_, err := db.Conn.Exec(fmt.Sprintf("-- %s\n%s;\n%s;\n%s;\n%s",
		name,
		getTableDelete("archive"),
		getTableDelete("order_logs"),
		getTableDelete("workers"),
		getTableDelete("orders"),
	))
	return err
}

// TearDown deletes all records from the database, and marks the test as failed
// if this was unsuccessful.
func TearDown(t testing.TB) {
	t.Helper()
	if db.Connected() {
		if err := TruncateTables(t); err != nil {
			t.Fatal(err)
		}
	}
}

// Assert fails the test if cond is false.
func Assert(t testing.TB, cond bool, message string) {
	t.Helper()
	if !cond {
		if message == "" {
			message = "assertion failed"
		}
		t.Error(message)
	}
}

// AssertEquals fails the test if want and got are not equal.
func AssertEquals(t testing.TB, got interface{}, want interface{}) {
	t.Helper()
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// AssertNotError fails the test if err is not nil.
func AssertNotError(t testing.TB, err error, message string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %s", message, err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error, message string) {
	t.Helper()
	if err == nil {
		t.Fatalf("%s: expected an error, got nil", message)
	}
}

// AssertContains fails the test if s does not contain substr.
func AssertContains(t testing.TB, s string, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("expected %q to contain %q", s, substr)
	}
}
