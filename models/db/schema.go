package db

import (
	_ "embed"
	"errors"
)

//go:embed schema.sql
var schema string

// CreateTables applies the schema to the connected database. Every
// statement is idempotent, so calling this against an existing database is
// safe.
func CreateTables() error {
	if !Connected() {
		return errors.New("No DB connection was established, can't create tables")
	}
	_, err := Conn.Exec(schema)
	return err
}
