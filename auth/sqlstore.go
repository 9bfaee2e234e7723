package auth

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const sqlSchema = `
CREATE TABLE IF NOT EXISTS credentials (
	kind  TEXT NOT NULL,
	realm TEXT NOT NULL,
	name  TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (kind, realm, name)
);`

// SQLStore keeps credentials in a SQLite database.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore opens (creating it if needed) the SQLite database at dsn.
// ":memory:" gives a private in-memory store.
func OpenSQLStore(dsn string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening credential store: %w", err)
	}
	// An in-memory database exists once per connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqlSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating credential store: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Load(kind, realm string) (map[string]string, error) {
	rows, err := s.db.Query(`SELECT name, value FROM credentials WHERE kind = ? AND realm = ?`, kind, realm)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var data map[string]string
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		if data == nil {
			data = make(map[string]string)
		}
		data[name] = value
	}
	return data, rows.Err()
}

func (s *SQLStore) Save(kind, realm string, data map[string]string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM credentials WHERE kind = ? AND realm = ?`, kind, realm); err != nil {
		return err
	}
	for name, value := range data {
		_, err := tx.Exec(`INSERT INTO credentials (kind, realm, name, value) VALUES (?, ?, ?, ?)`, kind, realm, name, value)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLStore) Delete(kind, realm string) error {
	_, err := s.db.Exec(`DELETE FROM credentials WHERE kind = ? AND realm = ?`, kind, realm)
	return err
}
