package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func initTestDB(t *testing.T) {
	t.Helper()
	if err := InitDB(filepath.Join(t.TempDir(), "flutterbox.db")); err != nil {
		t.Fatalf("InitDB() error = %v", err)
	}
	t.Cleanup(func() {
		if err := CloseDB(); err != nil {
			t.Fatalf("CloseDB() error = %v", err)
		}
	})
}

func TestWorkspaceStoreCreateGetAndRecordBuild(t *testing.T) {
	initTestDB(t)
	ctx := context.Background()
	s := NewWorkspaceStore()
	now := time.Now().UTC().Truncate(time.Second)

	rec := &WorkspaceRecord{
		ID:          "a1b2c3d4",
		RootPath:    "/srv/workspaces/a1b2c3d4",
		TemplateDir: "/srv/templates/blank",
		CreatedAt:   now,
	}
	if err := s.Create(ctx, rec); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := s.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got == nil {
		t.Fatalf("GetByID() returned nil")
	}
	if got.RootPath != rec.RootPath || got.TemplateDir != rec.TemplateDir || !got.CreatedAt.Equal(now) {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.LastBuildAt != nil || got.LastExitCode != nil {
		t.Fatalf("new record has build state: %+v", got)
	}

	finished := now.Add(time.Minute)
	if err := s.RecordBuild(ctx, rec.ID, 1, finished); err != nil {
		t.Fatalf("RecordBuild() error = %v", err)
	}
	got, err = s.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetByID() after build error = %v", err)
	}
	if got.LastExitCode == nil || *got.LastExitCode != 1 {
		t.Fatalf("LastExitCode = %v, want 1", got.LastExitCode)
	}
	if got.LastBuildAt == nil || !got.LastBuildAt.Equal(finished) {
		t.Fatalf("LastBuildAt = %v, want %v", got.LastBuildAt, finished)
	}
}

func TestWorkspaceStoreGetMissing(t *testing.T) {
	initTestDB(t)
	got, err := NewWorkspaceStore().GetByID(context.Background(), "ffffffff")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got != nil {
		t.Fatalf("GetByID() = %+v, want nil", got)
	}
}

func TestWorkspaceStoreRecordBuildWithoutRecord(t *testing.T) {
	initTestDB(t)
	if err := NewWorkspaceStore().RecordBuild(context.Background(), "00000000", 0, time.Now()); err != nil {
		t.Fatalf("RecordBuild() error = %v", err)
	}
}

func TestWorkspaceStoreListPaging(t *testing.T) {
	initTestDB(t)
	ctx := context.Background()
	s := NewWorkspaceStore()
	base := time.Now().UTC().Truncate(time.Second)

	ids := []string{"00000001", "00000002", "00000003"}
	for i, id := range ids {
		rec := &WorkspaceRecord{ID: id, RootPath: "/w/" + id, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := s.Create(ctx, rec); err != nil {
			t.Fatalf("Create(%s) error = %v", id, err)
		}
	}

	page, total, err := s.List(ctx, WorkspaceQuery{Page: 1, PageSize: 2})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 3 {
		t.Fatalf("List() total = %d, want 3", total)
	}
	if len(page) != 2 || page[0].ID != "00000003" || page[1].ID != "00000002" {
		t.Fatalf("List() page 1 = %+v", page)
	}

	page, _, err = s.List(ctx, WorkspaceQuery{Page: 2, PageSize: 2})
	if err != nil {
		t.Fatalf("List() page 2 error = %v", err)
	}
	if len(page) != 1 || page[0].ID != "00000001" {
		t.Fatalf("List() page 2 = %+v", page)
	}
}

func TestWorkspaceStoreListEmpty(t *testing.T) {
	initTestDB(t)
	items, total, err := NewWorkspaceStore().List(context.Background(), WorkspaceQuery{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 0 || items == nil || len(items) != 0 {
		t.Fatalf("List() = %v, %d; want empty non-nil slice", items, total)
	}
}

func TestWorkspaceStoreWithExplicitDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flutterbox.db")
	if err := InitDB(path); err != nil {
		t.Fatalf("InitDB() error = %v", err)
	}
	t.Cleanup(func() { CloseDB() })

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	explicit := NewWorkspaceStoreWithDB(db)
	if err := explicit.Create(ctx, &WorkspaceRecord{ID: "0f0f0f0f", RootPath: "/ws/0f0f0f0f", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := NewWorkspaceStore().GetByID(ctx, "0f0f0f0f")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got == nil || got.RootPath != "/ws/0f0f0f0f" {
		t.Fatalf("GetByID() = %+v, want the row written through the explicit connection", got)
	}
}
