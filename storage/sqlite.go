package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Tutortoise/freshtrack-service/models"
	_ "github.com/mattn/go-sqlite3"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Entry is an advisory record together with its normalized key.
type Entry struct {
	Item string `json:"item"`
	models.AdvisoryRecord
}

// NullableString distinguishes an absent JSON field from an explicit null.
type NullableString struct {
	Set   bool
	Value *string
}

func (n *NullableString) UnmarshalJSON(b []byte) error {
	n.Set = true
	if string(b) == "null" {
		n.Value = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	n.Value = &s
	return nil
}

// AdvisoryPatch holds the fields of an update. Nil fields are left alone.
type AdvisoryPatch struct {
	Storage         *string        `json:"storage"`
	ShelfLife       *int           `json:"shelf_life"`
	Tips            *string        `json:"tips"`
	SignsOfSpoilage *string        `json:"signs_of_spoilage"`
	Status          *string        `json:"status"`
	WasteDisposal   NullableString `json:"waste_disposal"`
}

func (p AdvisoryPatch) apply(rec models.AdvisoryRecord) models.AdvisoryRecord {
	if p.Storage != nil {
		rec.Storage = *p.Storage
	}
	if p.ShelfLife != nil {
		rec.ShelfLife = *p.ShelfLife
	}
	if p.Tips != nil {
		rec.Tips = *p.Tips
	}
	if p.SignsOfSpoilage != nil {
		rec.SignsOfSpoilage = *p.SignsOfSpoilage
	}
	if p.Status != nil {
		rec.Status = *p.Status
	}
	if p.WasteDisposal.Set {
		rec.WasteDisposal = p.WasteDisposal.Value
	}
	return rec
}

// Store is the advisory table with thread-safe access.
type Store struct {
	conn *sql.DB
	mu   sync.RWMutex
}

// NormalizeKey trims and lower-cases an item name.
func NormalizeKey(item string) string {
	return strings.ToLower(strings.TrimSpace(item))
}

// Open opens (creating if needed) the SQLite database at path, migrates it
// and seeds the default advisories into an empty table.
func Open(path string) (*Store, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection keeps :memory: databases alive for the store's lifetime.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	s := &Store{conn: conn}

	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := s.seed(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to seed database: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS advisories (
		item TEXT PRIMARY KEY,
		storage TEXT NOT NULL,
		shelf_life INTEGER NOT NULL DEFAULT 0,
		tips TEXT NOT NULL DEFAULT '',
		signs_of_spoilage TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'Unknown',
		waste_disposal TEXT,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_advisories_status ON advisories(status);
	`

	_, err := s.conn.Exec(schema)
	return err
}

func (s *Store) seed() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	if err := s.conn.QueryRow(`SELECT COUNT(*) FROM advisories`).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	tx, err := s.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for item, rec := range DefaultAdvisories {
		if err := upsertTx(tx, NormalizeKey(item), rec); err != nil {
			return err
		}
	}

	return tx.Commit()
}

const selectColumns = `item, storage, shelf_life, tips, signs_of_spoilage, status, waste_disposal`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var e Entry
	var disposal sql.NullString
	err := row.Scan(&e.Item, &e.Storage, &e.ShelfLife, &e.Tips, &e.SignsOfSpoilage, &e.Status, &disposal)
	if err != nil {
		return Entry{}, err
	}
	if disposal.Valid {
		e.WasteDisposal = &disposal.String
	}
	return e, nil
}

// Get returns the record stored under the normalized item key.
func (s *Store) Get(item string) (models.AdvisoryRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.conn.QueryRow(`SELECT `+selectColumns+` FROM advisories WHERE item = ?`, NormalizeKey(item))
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.AdvisoryRecord{}, false, nil
	}
	if err != nil {
		return models.AdvisoryRecord{}, false, fmt.Errorf("failed to get advisory: %w", err)
	}
	return e.AdvisoryRecord, true, nil
}

// All returns every record ordered by key.
func (s *Store) All() ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.query(`SELECT ` + selectColumns + ` FROM advisories ORDER BY item`)
}

// Search returns records whose key, storage or tips contain q,
// case-insensitively. An empty q matches everything.
func (s *Store) Search(q string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pattern := "%" + escapeLike(NormalizeKey(q)) + "%"
	return s.query(`SELECT `+selectColumns+` FROM advisories
		WHERE item LIKE ? ESCAPE '\' OR lower(storage) LIKE ? ESCAPE '\' OR lower(tips) LIKE ? ESCAPE '\'
		ORDER BY item`, pattern, pattern, pattern)
}

func (s *Store) query(q string, args ...any) ([]Entry, error) {
	rows, err := s.conn.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query advisories: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan advisory: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Upsert merges patch over the record stored under item. A new item starts
// from UnknownAdvisory.
func (s *Store) Upsert(item string, patch AdvisoryPatch) (models.AdvisoryRecord, error) {
	key := NormalizeKey(item)
	if key == "" {
		return models.AdvisoryRecord{}, fmt.Errorf("item name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.Begin()
	if err != nil {
		return models.AdvisoryRecord{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current := UnknownAdvisory()
	row := tx.QueryRow(`SELECT `+selectColumns+` FROM advisories WHERE item = ?`, key)
	e, err := scanEntry(row)
	switch {
	case err == nil:
		current = e.AdvisoryRecord
	case !errors.Is(err, sql.ErrNoRows):
		return models.AdvisoryRecord{}, fmt.Errorf("failed to read advisory: %w", err)
	}

	merged := patch.apply(current)
	if err := upsertTx(tx, key, merged); err != nil {
		return models.AdvisoryRecord{}, fmt.Errorf("failed to write advisory: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.AdvisoryRecord{}, fmt.Errorf("failed to commit advisory: %w", err)
	}
	return merged, nil
}

func upsertTx(tx *sql.Tx, key string, rec models.AdvisoryRecord) error {
	var disposal sql.NullString
	if rec.WasteDisposal != nil {
		disposal = sql.NullString{String: *rec.WasteDisposal, Valid: true}
	}
	_, err := tx.Exec(`
		INSERT INTO advisories (item, storage, shelf_life, tips, signs_of_spoilage, status, waste_disposal, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(item) DO UPDATE SET
			storage = excluded.storage,
			shelf_life = excluded.shelf_life,
			tips = excluded.tips,
			signs_of_spoilage = excluded.signs_of_spoilage,
			status = excluded.status,
			waste_disposal = excluded.waste_disposal,
			updated_at = CURRENT_TIMESTAMP`,
		key, rec.Storage, rec.ShelfLife, rec.Tips, rec.SignsOfSpoilage, rec.Status, disposal)
	return err
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (s *Store) Close() error {
	return s.conn.Close()
}
