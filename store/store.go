// Package store is a content-addressed cache of compiled units kept in
// SQLite. Units are keyed by the hex form of their content hash, so storing
// the same unit twice is a no-op.
package store

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/kiln/image"
)

var log = commonlog.GetLogger("kiln.store")

// ErrNotFound indicates no unit is stored under the requested key.
var ErrNotFound = errors.New("unit not found")

// Entry describes a stored unit without decoding it.
type Entry struct {
	Hash    string
	Facade  string
	Build   string
	Size    int
	Created time.Time
}

// Store holds units in a single SQLite database.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens or creates the cache at path. ":memory:" gives a private
// in-memory cache.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS units (
		hash TEXT PRIMARY KEY,
		facade TEXT NOT NULL,
		build TEXT NOT NULL,
		data BLOB NOT NULL,
		created INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}
	if _, err := db.Exec("CREATE INDEX IF NOT EXISTS units_facade ON units (facade, created)"); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating index: %w", err)
	}

	log.Debugf("opened cache %s", path)
	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Key returns the cache key of u.
func Key(u *image.Unit) string {
	return hex.EncodeToString(u.Hash[:])
}

// Put stores u, recorded as part of build, and returns its key.
func (s *Store) Put(u *image.Unit, build string) (string, error) {
	if err := u.Verify(); err != nil {
		return "", err
	}
	data, err := image.MarshalUnit(u)
	if err != nil {
		return "", fmt.Errorf("encoding unit: %w", err)
	}
	key := Key(u)

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"INSERT OR IGNORE INTO units (hash, facade, build, data, created) VALUES (?, ?, ?, ?, ?)",
		key, u.Facade, build, data, time.Now().UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("saving unit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		log.Debugf("unit %s already cached as %s", u.Facade, key[:12])
	} else {
		log.Infof("cached unit %s as %s", u.Facade, key[:12])
	}
	return key, nil
}

// PutImage stores every unit of img under its build id.
func (s *Store) PutImage(img *image.Image) ([]string, error) {
	keys := make([]string, 0, len(img.Units))
	build := img.ID().String()
	for _, u := range img.Units {
		k, err := s.Put(u, build)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// Get loads and verifies the unit stored under key.
func (s *Store) Get(key string) (*image.Unit, error) {
	var data []byte
	err := s.db.QueryRow("SELECT data FROM units WHERE hash = ?", key).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying unit: %w", err)
	}
	u, err := image.UnmarshalUnit(data)
	if err != nil {
		return nil, err
	}
	if Key(u) != key {
		return nil, fmt.Errorf("unit stored under %s hashes to %s", key, Key(u))
	}
	return u, nil
}

// Entry describes the unit stored under key.
func (s *Store) Entry(key string) (Entry, error) {
	e := Entry{Hash: key}
	var created int64
	err := s.db.QueryRow(
		"SELECT facade, build, length(data), created FROM units WHERE hash = ?", key,
	).Scan(&e.Facade, &e.Build, &e.Size, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("querying unit: %w", err)
	}
	e.Created = time.Unix(0, created)
	return e, nil
}

// BuildID returns the id of the build e came from, or nil when the build
// is not a uuid.
func (e Entry) BuildID() []byte {
	id, err := uuid.Parse(e.Build)
	if err != nil {
		return nil
	}
	return id[:]
}

// Lookup loads the most recently stored unit for facade.
func (s *Store) Lookup(facade string) (*image.Unit, error) {
	var key string
	err := s.db.QueryRow(
		"SELECT hash FROM units WHERE facade = ? ORDER BY created DESC, rowid DESC LIMIT 1", facade,
	).Scan(&key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying facade: %w", err)
	}
	return s.Get(key)
}

// List returns every entry, newest first.
func (s *Store) List() ([]Entry, error) {
	rows, err := s.db.Query(
		"SELECT hash, facade, build, length(data), created FROM units ORDER BY created DESC, rowid DESC",
	)
	if err != nil {
		return nil, fmt.Errorf("listing units: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var created int64
		if err := rows.Scan(&e.Hash, &e.Facade, &e.Build, &e.Size, &created); err != nil {
			return nil, fmt.Errorf("scanning unit: %w", err)
		}
		e.Created = time.Unix(0, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Delete removes the unit stored under key.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM units WHERE hash = ?", key)
	if err != nil {
		return fmt.Errorf("deleting unit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Prune keeps the newest keep units of each facade and deletes the rest.
// It returns the number of units deleted.
func (s *Store) Prune(keep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM units WHERE hash IN (
		SELECT hash FROM (
			SELECT hash, ROW_NUMBER() OVER (PARTITION BY facade ORDER BY created DESC, rowid DESC) AS rn
			FROM units
		) WHERE rn > ?
	)`, keep)
	if err != nil {
		return 0, fmt.Errorf("pruning units: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		log.Infof("pruned %d units from %s", n, s.path)
	}
	return int(n), nil
}
