package storage

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// KV is the durable key-value capability the session layer persists through.
// Implementations must be synchronous and must never partially apply a Set.
type KV interface {
	Get(key string) (string, bool)
	Set(key, value string, expiresAt time.Time, secure bool) error
	Delete(key string) error
	Close() error
}

type DB struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	debug  bool
}

const kvSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	secure     INTEGER NOT NULL DEFAULT 0,
	expires_at TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

func Open(dbPath string, enableWAL, debug bool) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := openDatabase(dbPath, enableWAL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(kvSchema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			log.Printf("Failed to close database after schema error: %v", closeErr)
		}
		return nil, fmt.Errorf("create kv schema: %w", err)
	}

	return &DB{db: db, debug: debug}, nil
}

func openDatabase(dbPath string, enableWAL bool) (*sql.DB, error) {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		log.Printf("Creating new database at %s", dbPath)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=memory",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=30000",
	}

	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			if closeErr := db.Close(); closeErr != nil {
				log.Printf("Failed to close database after pragma error: %v", closeErr)
			}
			return nil, fmt.Errorf("execute pragma %s: %w", pragma, err)
		}
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			log.Printf("Failed to close database after ping error: %v", closeErr)
		}
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

func (d *DB) debugLog(operation string, err error, duration time.Duration) {
	if !d.debug || err == nil {
		return
	}

	log.Printf("[KV] %s failed in %v: %v", operation, duration, err)
}

func (d *DB) checkClosed() error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return fmt.Errorf("database is closed")
	}
	return nil
}

// Get returns the stored value for key. Expired entries are treated as absent.
func (d *DB) Get(key string) (string, bool) {
	start := time.Now()

	if err := d.checkClosed(); err != nil {
		return "", false
	}

	var value string
	var expiresAt sql.NullTime
	err := d.db.QueryRow(
		`SELECT value, expires_at FROM kv WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if err != nil {
		if err != sql.ErrNoRows {
			d.debugLog("Get", err, time.Since(start))
		}
		return "", false
	}

	if expiresAt.Valid && time.Now().After(expiresAt.Time) {
		if delErr := d.Delete(key); delErr != nil {
			d.debugLog("Get/expire", delErr, time.Since(start))
		}
		return "", false
	}

	return value, true
}

func (d *DB) Set(key, value string, expiresAt time.Time, secure bool) error {
	start := time.Now()

	if err := d.checkClosed(); err != nil {
		return err
	}

	var expires interface{}
	if !expiresAt.IsZero() {
		expires = expiresAt
	}

	secureFlag := 0
	if secure {
		secureFlag = 1
	}

	_, err := d.db.Exec(`
		INSERT INTO kv (key, value, secure, expires_at, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			secure = excluded.secure,
			expires_at = excluded.expires_at,
			updated_at = CURRENT_TIMESTAMP`,
		key, value, secureFlag, expires)
	if err != nil {
		d.debugLog("Set", err, time.Since(start))
		return fmt.Errorf("set %s: %w", key, err)
	}

	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (d *DB) Delete(key string) error {
	start := time.Now()

	if err := d.checkClosed(); err != nil {
		return err
	}

	if _, err := d.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		d.debugLog("Delete", err, time.Since(start))
		return fmt.Errorf("delete %s: %w", key, err)
	}

	return nil
}

func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	return d.db.Close()
}
