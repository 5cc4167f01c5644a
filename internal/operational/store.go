package operational

import (
	"database/sql"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store provides the shared database for the notification pipeline and the
// reference collaborator stores (reminders, profiles, conversation, inbox).
type Store struct {
	db *sql.DB
}

// Open creates or opens the operational database
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}

	// sqlite has a single writer; one connection keeps claim/enqueue statements serialized
	db.SetMaxOpenConns(1)

	return &Store{db: db}, nil
}

// OpenMemory opens a private in-memory database, used by tests
func OpenMemory() (*Store, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, err
	}

	// every pooled connection to :memory: would be a different database
	db.SetMaxOpenConns(1)

	return &Store{db: db}, nil
}

// DB returns the underlying database connection for sub-stores
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping checks the database is reachable
func (s *Store) Ping() error {
	return s.db.Ping()
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
