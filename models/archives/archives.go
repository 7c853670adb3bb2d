// Logic for interacting with the "archive" table: dedup markers recording
// that a (source, name) work product has been produced at least once.
package archives

import (
	"database/sql"
	"errors"
	"fmt"

	dberror "github.com/Shyp/go-dberror"
	"github.com/ewasser/orderd/models"
	"github.com/ewasser/orderd/models/db"
)

// ErrNotFound indicates that no marker exists for the given pair.
var ErrNotFound = errors.New("Archive record not found")

var getStmt *sql.Stmt
var countStmt *sql.Stmt

func Setup() (err error) {
	if !db.Connected() {
		return errors.New("No DB connection was established, can't query")
	}

	if getStmt != nil {
		return
	}

	query := fmt.Sprintf(`-- archives.Get
SELECT %s
FROM archive
WHERE source = $1
	AND name = $2`, fields())
	getStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = `-- archives.Count
SELECT count(*) FROM archive WHERE source = $1 AND name = $2`
	countStmt, err = db.Conn.Prepare(query)
	return
}

// Get returns the marker for the given pair, or ErrNotFound.
func Get(source string, name string) (*models.Archive, error) {
	a := new(models.Archive)
	err := getStmt.QueryRow(source, name).Scan(args(a)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, dberror.GetError(err)
	}
	return a, nil
}

// Count returns the number of markers for the given pair. The composite
// unique key keeps this at 0 or 1; anything else is a bug.
func Count(source string, name string) (count int64, err error) {
	err = countStmt.QueryRow(source, name).Scan(&count)
	return
}

// Upsert records the pair inside tx. Inserting an existing pair is a no-op;
// the returned boolean reports whether a new row was written.
func Upsert(tx *sql.Tx, source string, name string) (bool, error) {
	res, err := tx.Exec(`-- archives.Upsert
INSERT INTO archive (source, name)
VALUES ($1, $2)
ON CONFLICT ON CONSTRAINT archive_source_name_key DO NOTHING`, source, name)
	if err != nil {
		return false, dberror.GetError(err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func fields() string {
	return `id,
	source,
	name`
}

func args(a *models.Archive) []interface{} {
	return []interface{}{
		&a.ID,
		&a.Source,
		&a.Name,
	}
}
