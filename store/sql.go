package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	SQLite   = "sqlite"
	Postgres = "postgres"
)

// SQLStore keeps records as JSON documents in active, archive, and
// quarantine tables. Relocation between tables happens in a transaction.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// OpenSQLStore connects to the database and creates the schema.
func OpenSQLStore(driver, dsn string) (*SQLStore, error) {
	if driver != SQLite && driver != Postgres {
		return nil, fmt.Errorf("%w %q", ErrUnknownDriver, driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	// An in-memory sqlite database exists per connection.
	if driver == SQLite {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	s := &SQLStore{db: db, driver: driver}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) createSchema() error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// Save the record to the active table.
func (s *SQLStore) Save(rec *Record) (err error) {
	if err = validID(rec.ID); err != nil {
		return err
	}

	rec.Version = RecordVersion
	data, err := rec.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	var tx *sql.Tx
	if tx, err = s.db.Begin(); err != nil {
		return err
	}
	defer tx.Rollback()

	var archived int
	if err = tx.QueryRow(s.rebind(`SELECT COUNT(*) FROM elections_archive WHERE id = ?`), rec.ID).Scan(&archived); err != nil {
		return err
	}
	if archived > 0 {
		return ErrAlreadyArchived
	}

	query := `INSERT INTO elections_active (id, context, election_type, phase, record, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			context = excluded.context,
			election_type = excluded.election_type,
			phase = excluded.phase,
			record = excluded.record,
			updated_at = excluded.updated_at`

	context := rec.ContextKind + ":" + rec.ContextID
	if _, err = tx.Exec(s.rebind(query), rec.ID, context, rec.Type, rec.Phase, string(data), now()); err != nil {
		return fmt.Errorf("failed to save record %s: %w", rec.ID, err)
	}
	return tx.Commit()
}

// Archive moves the record from the active to the archive table.
func (s *SQLStore) Archive(id string) (err error) {
	if err = validID(id); err != nil {
		return err
	}

	var tx *sql.Tx
	if tx, err = s.db.Begin(); err != nil {
		return err
	}
	defer tx.Rollback()

	var archived int
	if err = tx.QueryRow(s.rebind(`SELECT COUNT(*) FROM elections_archive WHERE id = ?`), id).Scan(&archived); err != nil {
		return err
	}
	if archived > 0 {
		return ErrAlreadyArchived
	}

	query := `INSERT INTO elections_archive (id, context, election_type, phase, record, updated_at, archived_at)
		SELECT id, context, election_type, phase, record, updated_at, ? FROM elections_active WHERE id = ?`

	var res sql.Result
	if res, err = tx.Exec(s.rebind(query), now(), id); err != nil {
		return fmt.Errorf("failed to archive record %s: %w", id, err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	if _, err = tx.Exec(s.rebind(`DELETE FROM elections_active WHERE id = ?`), id); err != nil {
		return err
	}
	return tx.Commit()
}

// LoadActive reads every active record, quarantining any that cannot be decoded.
func (s *SQLStore) LoadActive() ([]*Record, error) {
	rows, err := s.db.Query(`SELECT id, record FROM elections_active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active records: %w", err)
	}

	var (
		records []*Record
		corrupt = make(map[string]error)
	)

	for rows.Next() {
		var id, data string
		if err = rows.Scan(&id, &data); err != nil {
			rows.Close()
			return nil, err
		}

		rec, err := Unmarshal([]byte(data))
		if err == nil && rec.ID != id {
			err = fmt.Errorf("%w: record id %q does not match row %q", ErrCorrupt, rec.ID, id)
		}

		if err != nil {
			corrupt[id] = err
			continue
		}
		records = append(records, rec)
	}

	if err = rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Quarantine after the cursor is closed; sqlite runs on a single connection.
	for id, reason := range corrupt {
		if err = s.Quarantine(id, reason); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// LoadArchived reads a record from the archive table.
func (s *SQLStore) LoadArchived(id string) (*Record, error) {
	var data string
	if err := s.db.QueryRow(s.rebind(`SELECT record FROM elections_archive WHERE id = ?`), id).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return Unmarshal([]byte(data))
}

// Quarantine moves an active row into the quarantine table with the reason.
func (s *SQLStore) Quarantine(id string, reason error) (err error) {
	msg := "unknown"
	if reason != nil {
		msg = reason.Error()
	}

	var tx *sql.Tx
	if tx, err = s.db.Begin(); err != nil {
		return err
	}
	defer tx.Rollback()

	query := `INSERT INTO elections_quarantine (id, reason, record, quarantined_at)
		SELECT id, ?, record, ? FROM elections_active WHERE id = ?`

	var res sql.Result
	if res, err = tx.Exec(s.rebind(query), msg, now(), id); err != nil {
		return fmt.Errorf("failed to quarantine record %s: %w", id, err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	if _, err = tx.Exec(s.rebind(`DELETE FROM elections_active WHERE id = ?`), id); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return err
	}

	log.Warn().Str("record", id).Str("reason", msg).Str("driver", s.driver).Msg("record quarantined")
	return nil
}

// Quarantined returns the ids of quarantined records.
func (s *SQLStore) Quarantined() ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM elections_quarantine ORDER BY quarantined_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind converts ? placeholders into $n placeholders for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != Postgres {
		return query
	}

	var (
		b strings.Builder
		n int
	)
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
