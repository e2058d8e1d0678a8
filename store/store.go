// Package store persists finished asset bundles. The pipeline core only
// produces bytes; this is the storage collaborator that owns their lifecycle.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

var ErrNotFound = errors.New("asset not found")

// Record is one persisted asset: every encoded rendering plus the shared
// palette the renderings were quantized against.
type Record struct {
	ID        string
	CreatedAt time.Time
	Palette   []string // #rrggbb entries, darkest first
	Images    []Image
}

// Image is one encoded rendering inside a record.
type Image struct {
	Variant string // composite, cutout or background
	Width   int
	Height  int
	PNG     []byte
}

type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS assets (
	id TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL,
	palette TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS asset_images (
	asset_id TEXT NOT NULL REFERENCES assets(id) ON DELETE CASCADE,
	variant TEXT NOT NULL,
	width INTEGER NOT NULL,
	height INTEGER NOT NULL,
	png BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_asset_images_asset ON asset_images(asset_id);
`

// Open opens (creating if needed) the sqlite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init store schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Create persists rec atomically and returns its generated identifier.
// A record either lands with all of its images or not at all.
func (s *Store) Create(ctx context.Context, rec *Record) (string, error) {
	if len(rec.Images) == 0 {
		return "", errors.New("record has no images")
	}
	id := uuid.NewString()
	palette, err := json.Marshal(rec.Palette)
	if err != nil {
		return "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	createdAt := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO assets (id, created_at, palette) VALUES (?, ?, ?)`,
		id, createdAt, string(palette)); err != nil {
		return "", err
	}
	for _, img := range rec.Images {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO asset_images (asset_id, variant, width, height, png) VALUES (?, ?, ?, ?, ?)`,
			id, img.Variant, img.Width, img.Height, img.PNG); err != nil {
			return "", err
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}

	rec.ID = id
	rec.CreatedAt = createdAt
	return id, nil
}

// Get loads the record with the given identifier.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	rec := &Record{ID: id}
	var palette string
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at, palette FROM assets WHERE id = ?`, id).
		Scan(&rec.CreatedAt, &palette)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(palette), &rec.Palette); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT variant, width, height, png FROM asset_images WHERE asset_id = ? ORDER BY variant, width, height`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var img Image
		if err := rows.Scan(&img.Variant, &img.Width, &img.Height, &img.PNG); err != nil {
			return nil, err
		}
		rec.Images = append(rec.Images, img)
	}
	return rec, rows.Err()
}

// Delete removes the record and its images.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM assets WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	// CASCADE is on, but sqlite only honors it with foreign keys enabled;
	// delete explicitly so a misconfigured connection cannot leak blobs.
	_, err = s.db.ExecContext(ctx, `DELETE FROM asset_images WHERE asset_id = ?`, id)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}
