/*
Package store persists election records. Every store keeps active and
archived records in separate partitions; a record moves from the active to
the archived partition exactly once. Records that cannot be read are moved
aside into a quarantine so that one corrupt record never blocks loading the
rest.
*/
package store

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Standard errors returned by stores.
var (
	ErrNotFound        = errors.New("record not found")
	ErrAlreadyArchived = errors.New("record has already been archived")
	ErrCorrupt         = errors.New("record is corrupt")
	ErrInvalidID       = errors.New("invalid record id")
	ErrUnknownDriver   = errors.New("unknown database driver")
)

// Store is the persistence contract of the election engine.
type Store interface {
	Save(rec *Record) error                  // create or replace the record in the active partition
	Archive(id string) error                 // move the record from the active to the archived partition
	LoadActive() ([]*Record, error)          // all readable active records, unreadable ones are quarantined
	LoadArchived(id string) (*Record, error) // read a record from the archived partition
	Quarantine(id string, reason error) error
	Close() error
}

// Open a store from a database DSN, falling back to a file store rooted at
// dir when the DSN is empty. Supported schemes are sqlite and postgres.
func Open(dsn, dir string) (Store, error) {
	if dsn == "" {
		return OpenFileStore(dir)
	}

	u, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("could not parse database dsn: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "sqlite", "sqlite3":
		path := u.Opaque
		if path == "" {
			path = u.Host + u.Path
		}
		return OpenSQLStore(SQLite, path)
	case "postgres", "postgresql":
		return OpenSQLStore(Postgres, dsn)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownDriver, u.Scheme)
	}
}

// validID ensures record ids can be used as file names and keys.
func validID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\.`) || strings.TrimSpace(id) != id {
		return fmt.Errorf("%w %q", ErrInvalidID, id)
	}
	return nil
}
