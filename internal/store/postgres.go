package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/andresmejia3/facesift/internal/types"
)

// Postgres manages the PostgreSQL pool and pgvector operations.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// New establishes a connection pool and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Postgres, error) {
	// The vector type must exist before the pool registers it on each connection.
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}
	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	conn.Close(ctx)

	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

// initSchema creates the necessary tables and vector extension if they don't exist (Auto-Migration).
// The embedding column has no fixed dimension so any embedder can be used.
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS files (
			id BIGSERIAL PRIMARY KEY,
			path TEXT NOT NULL UNIQUE,
			fingerprint TEXT NOT NULL DEFAULT '',
			scan_status TEXT,
			added_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS persons (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS faces (
			id BIGSERIAL PRIMARY KEY,
			file_id BIGINT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
			bbox JSONB NOT NULL,
			embedding VECTOR NOT NULL,
			person_id BIGINT REFERENCES persons(id) ON DELETE SET NULL
		);
		CREATE INDEX IF NOT EXISTS faces_file_id_idx ON faces (file_id);
		CREATE INDEX IF NOT EXISTS faces_person_id_idx ON faces (person_id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the pool.
func (s *Postgres) Close(ctx context.Context) {
	s.pool.Close()
}

func (s *Postgres) RegisterFile(ctx context.Context, path, fingerprint string) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var id int64
	var old string
	err = tx.QueryRow(ctx, "SELECT id, fingerprint FROM files WHERE path = $1 FOR UPDATE", path).Scan(&id, &old)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		err = tx.QueryRow(ctx, "INSERT INTO files (path, fingerprint) VALUES ($1, $2) RETURNING id", path, fingerprint).Scan(&id)
		if err != nil {
			return 0, err
		}
	case err != nil:
		return 0, err
	case old != fingerprint:
		// The photo changed on disk, so its faces are stale.
		if _, err := tx.Exec(ctx, "DELETE FROM faces WHERE file_id = $1", id); err != nil {
			return 0, err
		}
		if _, err := tx.Exec(ctx, "UPDATE files SET fingerprint = $1, scan_status = NULL WHERE id = $2", fingerprint, id); err != nil {
			return 0, err
		}
	}
	return id, tx.Commit(ctx)
}

func (s *Postgres) GetFile(ctx context.Context, id int64) (types.ImageFile, error) {
	var f types.ImageFile
	var status *string
	err := s.pool.QueryRow(ctx, "SELECT id, path, scan_status FROM files WHERE id = $1", id).Scan(&f.ID, &f.Path, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return f, ErrNotFound
	}
	if status != nil {
		f.Status = types.ScanStatus(*status)
	}
	return f, err
}

func (s *Postgres) GetUnprocessedImageFiles(ctx context.Context) ([]types.ImageFile, error) {
	rows, err := s.pool.Query(ctx, "SELECT id, path FROM files WHERE scan_status IS NULL ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []types.ImageFile
	for rows.Next() {
		var f types.ImageFile
		if err := rows.Scan(&f.ID, &f.Path); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *Postgres) GetStats(ctx context.Context) (types.Stats, error) {
	var st types.Stats
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM files WHERE scan_status IS NOT NULL),
			(SELECT COUNT(*) FROM faces)
	`).Scan(&st.ProcessedCount, &st.FaceCount)
	return st, err
}

func (s *Postgres) MarkScanned(ctx context.Context, fileID int64, status types.ScanStatus) error {
	tag, err := s.pool.Exec(ctx, "UPDATE files SET scan_status = $1 WHERE id = $2", string(status), fileID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveScan replaces the file's faces and sets its scan status in one transaction.
func (s *Postgres) SaveScan(ctx context.Context, fileID int64, status types.ScanStatus, faces []NewFace) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, "UPDATE files SET scan_status = $1 WHERE id = $2", string(status), fileID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if _, err := tx.Exec(ctx, "DELETE FROM faces WHERE file_id = $1", fileID); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, f := range faces {
		batch.Queue("INSERT INTO faces (file_id, bbox, embedding) VALUES ($1, $2::jsonb, $3)",
			fileID, f.BBoxJSON, pgvector.NewVector(f.Embedding))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Postgres) AddFace(ctx context.Context, fileID int64, bboxJSON string, embedding []float32) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		"INSERT INTO faces (file_id, bbox, embedding) VALUES ($1, $2::jsonb, $3) RETURNING id",
		fileID, bboxJSON, pgvector.NewVector(embedding),
	).Scan(&id)
	return id, err
}

func (s *Postgres) GetAllFaces(ctx context.Context) ([]types.PersistedFace, error) {
	rows, err := s.pool.Query(ctx, "SELECT id, file_id, bbox::text, embedding, person_id FROM faces ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var faces []types.PersistedFace
	for rows.Next() {
		var f types.PersistedFace
		var vec pgvector.Vector
		if err := rows.Scan(&f.ID, &f.FileID, &f.BBoxJSON, &vec, &f.PersonID); err != nil {
			return nil, err
		}
		f.Embedding = vec.Slice()
		faces = append(faces, f)
	}
	return faces, rows.Err()
}

func (s *Postgres) ResetAllAssignments(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "UPDATE faces SET person_id = NULL WHERE person_id IS NOT NULL"); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "DELETE FROM persons"); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Postgres) CreatePerson(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, "INSERT INTO persons (name) VALUES ($1) RETURNING id", name).Scan(&id)
	return id, err
}

func (s *Postgres) AssignToPerson(ctx context.Context, faceID, personID int64) error {
	tag, err := s.pool.Exec(ctx, "UPDATE faces SET person_id = $1 WHERE id = $2", personID, faceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) ListPersons(ctx context.Context) ([]types.Person, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.name, COUNT(f.id)
		FROM persons p
		LEFT JOIN faces f ON f.person_id = p.id
		GROUP BY p.id, p.name
		ORDER BY p.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var persons []types.Person
	for rows.Next() {
		var p types.Person
		if err := rows.Scan(&p.ID, &p.Name, &p.FaceCount); err != nil {
			return nil, err
		}
		persons = append(persons, p)
	}
	return persons, rows.Err()
}

// RenamePerson updates the name of a person.
func (s *Postgres) RenamePerson(ctx context.Context, id int64, name string) error {
	tag, err := s.pool.Exec(ctx, "UPDATE persons SET name = $1 WHERE id = $2", name, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) CountPersons(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM persons").Scan(&n)
	return n, err
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Postgres) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		DROP TABLE IF EXISTS faces CASCADE;
		DROP TABLE IF EXISTS persons CASCADE;
		DROP TABLE IF EXISTS files CASCADE;
	`)
	return err
}
