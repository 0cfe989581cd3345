package store

import (
	"path/filepath"
	"testing"
)

func TestNew_AppliesMigrations(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "nested", "kioku.db"))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer s.Close()

	v, err := s.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion() error: %v", err)
	}
	if v != 3 {
		t.Errorf("schema version = %d, want 3", v)
	}

	for _, table := range []string{"core_memory", "memory_records", "session_state"} {
		var name string
		err := s.DB().QueryRow(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestNew_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kioku.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("first New() error: %v", err)
	}
	s.Close()

	s, err = New(path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer s.Close()

	var n int
	if err := s.DB().QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 migration rows after reopen, got %d", n)
	}
}

func TestNew_InMemory(t *testing.T) {
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New(:memory:) error: %v", err)
	}
	defer s.Close()

	if _, err := s.DB().Exec(
		"INSERT INTO session_state (user_id, state, updated_at) VALUES ('u', '{}', 'now')",
	); err != nil {
		t.Fatalf("insert into in-memory db: %v", err)
	}
}
