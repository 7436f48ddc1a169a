// Package sqlitemount persists a subtree in a SQLite database. It runs
// under the cache-owner policy: local writes are forwarded into the
// database through OnPublish, and queries are served from it.
package sqlitemount

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/arborstore/arbor/pkg/domain"
	"github.com/arborstore/arbor/pkg/logger"
	"github.com/arborstore/arbor/pkg/vstore"
)

const component = "sqlitemount"

const schema = `
CREATE TABLE IF NOT EXISTS objects (
	path       TEXT PRIMARY KEY,
	type       TEXT NOT NULL DEFAULT '',
	value      TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// Mount serves and persists objects from a SQLite file.
type Mount struct {
	vstore.BaseMount
	db *sql.DB
}

// New opens (creating if needed) the database at dsn and anchors the mount
// at from.
func New(name, from, dsn string) (*Mount, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitemount: open %s: %w", dsn, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitemount: create schema: %w", err)
	}
	m := &Mount{
		BaseMount: vstore.NewBaseMount(name, from, vstore.MountPolicy{
			Ownership:   domain.CacheOwner,
			ContentType: "application/json",
		}),
		db: db,
	}
	return m, nil
}

// Close releases the database handle.
func (m *Mount) Close() error { return m.db.Close() }

// OnQuery serves a select from the objects table. Pattern filtering runs in
// Go so glob semantics stay identical to the in-memory store's.
func (m *Mount) OnQuery(q *vstore.Query) (vstore.Iter, error) {
	prefix := strings.Trim(q.From, "/")
	rows, err := m.db.Query(`SELECT path, type, value FROM objects ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("sqlitemount: query: %w", err)
	}
	defer rows.Close()

	var results []vstore.Result
	for rows.Next() {
		var path, typeName, value string
		if err := rows.Scan(&path, &typeName, &value); err != nil {
			return nil, fmt.Errorf("sqlitemount: scan: %w", err)
		}
		rel := path
		if prefix != "" {
			if !strings.HasPrefix(path, prefix+"/") {
				continue
			}
			rel = strings.TrimPrefix(path, prefix+"/")
		}
		if !vstore.MatchPattern(q.Expr, rel) {
			continue
		}
		name := rel[strings.LastIndex(rel, "/")+1:]
		parent := strings.TrimSuffix(path, "/"+name)
		if parent == path {
			parent = ""
		}
		results = append(results, vstore.Result{
			ID:          rel,
			Name:        name,
			Parent:      parent,
			Type:        typeName,
			Value:       []byte(value),
			ContentType: "application/json",
			Flags:       vstore.FlagLeaf,
			Owner:       m.ID(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitemount: iterate: %w", err)
	}
	return vstore.NewSliceIter(results, nil), nil
}

// OnResume materialises one row.
func (m *Mount) OnResume(parent, name string) (*vstore.Result, error) {
	path := name
	if parent != "" {
		path = parent + "/" + name
	}
	var typeName, value string
	err := m.db.QueryRow(`SELECT type, value FROM objects WHERE path = ?`, path).Scan(&typeName, &value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitemount: resume %s: %w", path, err)
	}
	return &vstore.Result{
		ID:          path,
		Name:        name,
		Parent:      parent,
		Type:        typeName,
		Value:       []byte(value),
		ContentType: "application/json",
		Flags:       vstore.FlagLeaf,
		Owner:       m.ID(),
	}, nil
}

// OnPublish upserts forwarded writes and removes deleted ids.
func (m *Mount) OnPublish(event domain.EventType, id string, value []byte, contentType string) error {
	switch event {
	case domain.EventDelete:
		if _, err := m.db.Exec(`DELETE FROM objects WHERE path = ? OR path LIKE ?`, id, id+"/%"); err != nil {
			return fmt.Errorf("sqlitemount: delete %s: %w", id, err)
		}
		return nil
	default:
		_, err := m.db.Exec(
			`INSERT INTO objects (path, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
			 ON CONFLICT(path) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
			id, string(value),
		)
		if err != nil {
			return fmt.Errorf("sqlitemount: upsert %s: %w", id, err)
		}
		logger.DebugCF(component, "write forwarded", map[string]interface{}{"path": id})
		return nil
	}
}
