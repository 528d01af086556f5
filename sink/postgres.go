package sink

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	dedup_key   TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	payload     JSONB NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const insert = `
INSERT INTO events (dedup_key, kind, payload)
VALUES ($1, $2, $3)
ON CONFLICT (dedup_key) DO NOTHING`

// PostgresSink appends records to a single events table. The dedup key is
// derived from the record content, so replayed writes are skipped rather
// than duplicated.
type PostgresSink struct {
	db *sql.DB
}

func NewPostgresSink(dsn string) (*PostgresSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening postgres")
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	s := &PostgresSink{db: db}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating events table")
	}
	return s, nil
}

// NewPostgresSinkDB wraps an existing handle, for tests.
func NewPostgresSinkDB(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

func dedupKey(kind Kind, payload []byte) string {
	h := fnv.New64a()
	h.Write([]byte(kind))
	h.Write(payload)
	return fmt.Sprintf("%s-%x", kind, h.Sum64())
}

func (s *PostgresSink) Record(kind Kind, payload map[string]interface{}) error {
	data, err := json.Marshal(payload) // map keys marshal sorted, key is stable
	if err != nil {
		return errors.Wrap(err, "encoding record")
	}
	if _, err := s.db.Exec(insert, dedupKey(kind, data), string(kind), data); err != nil {
		return errors.Wrap(err, "inserting record")
	}
	return nil
}

func (s *PostgresSink) Close() error {
	return s.db.Close()
}
