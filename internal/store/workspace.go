package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// WorkspaceRecord is the metadata kept for one workspace directory. The
// directory itself stays authoritative; a missing record never hides a
// workspace from the file endpoints.
type WorkspaceRecord struct {
	ID           string
	RootPath     string
	TemplateDir  string
	CreatedAt    time.Time
	LastBuildAt  *time.Time
	LastExitCode *int
}

type WorkspaceQuery struct {
	Page     int
	PageSize int
}

// WorkspaceStore handles workspace metadata persistence.
type WorkspaceStore struct {
	db *sql.DB
}

func NewWorkspaceStore() *WorkspaceStore {
	return &WorkspaceStore{db: DB}
}

// NewWorkspaceStoreWithDB binds the store to an explicit connection.
func NewWorkspaceStoreWithDB(db *sql.DB) *WorkspaceStore {
	return &WorkspaceStore{db: db}
}

func (s *WorkspaceStore) Create(ctx context.Context, rec *WorkspaceRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspaces (id, root_path, template_dir, created_at, last_build_at, last_exit_code)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			root_path = excluded.root_path,
			template_dir = excluded.template_dir,
			created_at = excluded.created_at,
			last_build_at = NULL,
			last_exit_code = NULL
	`, rec.ID, rec.RootPath, rec.TemplateDir, rec.CreatedAt, toNullTime(rec.LastBuildAt), toNullInt(rec.LastExitCode))
	if err != nil {
		return fmt.Errorf("failed to create workspace record: %w", err)
	}
	return nil
}

func (s *WorkspaceStore) GetByID(ctx context.Context, id string) (*WorkspaceRecord, error) {
	row := s.db.QueryRowContext(ctx, workspaceSelectSQL+` WHERE id = ?`, id)
	rec, err := scanWorkspace(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace by id: %w", err)
	}
	return rec, nil
}

// List returns one page of workspaces, newest first, and the total count.
func (s *WorkspaceStore) List(ctx context.Context, query WorkspaceQuery) ([]WorkspaceRecord, int, error) {
	if query.Page <= 0 {
		query.Page = 1
	}
	if query.PageSize <= 0 {
		query.PageSize = 20
	}
	if query.PageSize > 100 {
		query.PageSize = 100
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM workspaces`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count workspaces: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, workspaceSelectSQL+`
		 ORDER BY created_at DESC, id ASC
		 LIMIT ? OFFSET ?
	`, query.PageSize, (query.Page-1)*query.PageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list workspaces: %w", err)
	}
	defer rows.Close()

	items, err := scanWorkspaceRows(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// RecordBuild stores the outcome of the latest finished build. Workspaces
// without a metadata record are left alone.
func (s *WorkspaceStore) RecordBuild(ctx context.Context, id string, exitCode int, finishedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE workspaces SET last_build_at = ?, last_exit_code = ? WHERE id = ?
	`, finishedAt, exitCode, id)
	if err != nil {
		return fmt.Errorf("failed to record workspace build: %w", err)
	}
	return nil
}

const workspaceSelectSQL = `
	SELECT id, root_path, template_dir, created_at, last_build_at, last_exit_code
	FROM workspaces
`

func scanWorkspace(row interface{ Scan(dest ...any) error }) (*WorkspaceRecord, error) {
	var rec WorkspaceRecord
	var lastBuildAt sql.NullTime
	var lastExitCode sql.NullInt64
	if err := row.Scan(&rec.ID, &rec.RootPath, &rec.TemplateDir, &rec.CreatedAt, &lastBuildAt, &lastExitCode); err != nil {
		return nil, err
	}
	if lastBuildAt.Valid {
		t := lastBuildAt.Time
		rec.LastBuildAt = &t
	}
	if lastExitCode.Valid {
		code := int(lastExitCode.Int64)
		rec.LastExitCode = &code
	}
	return &rec, nil
}

func scanWorkspaceRows(rows *sql.Rows) ([]WorkspaceRecord, error) {
	var items []WorkspaceRecord
	for rows.Next() {
		rec, err := scanWorkspace(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workspace row: %w", err)
		}
		items = append(items, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate workspace rows: %w", err)
	}
	if items == nil {
		items = []WorkspaceRecord{}
	}
	return items, nil
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func toNullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
