package migrate

import (
	"errors"
	"io/fs"
	"strings"
	"testing"

	"token-lifecycle/backend/internal/db"
)

func TestRun_EmptyDSN(t *testing.T) {
	for _, dsn := range []string{"", "   "} {
		if err := Run(dsn, "up"); !errors.Is(err, ErrEmptyDSN) {
			t.Errorf("Run(%q) err = %v, want ErrEmptyDSN", dsn, err)
		}
	}
	if _, _, err := Version(""); !errors.Is(err, ErrEmptyDSN) {
		t.Errorf("Version(\"\") err = %v, want ErrEmptyDSN", err)
	}
}

func TestRun_InvalidDirection(t *testing.T) {
	testCases := []struct {
		name      string
		direction string
	}{
		{"empty", ""},
		{"invalid", "invalid"},
		{"upcase", "UP"},
		{"mixed", "Up"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := Run("postgres://localhost/test", tc.direction)
			if err == nil {
				t.Fatalf("Run with direction %q should return error", tc.direction)
			}
			if !strings.Contains(err.Error(), "direction must be up or down") {
				t.Errorf("error = %q, want direction error", err.Error())
			}
		})
	}
}

func TestRun_InvalidDSN(t *testing.T) {
	testCases := []struct {
		name string
		dsn  string
	}{
		{"invalid format", "invalid-dsn"},
		{"missing driver", "://localhost/test"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if err := Run(tc.dsn, "up"); err == nil {
				t.Errorf("Run with invalid DSN %q should return error", tc.dsn)
			}
		})
	}
}

func TestMigrationFS_UpDownPairs(t *testing.T) {
	ups, err := fs.Glob(db.MigrationFS, "migrations/*.up.sql")
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	if len(ups) == 0 {
		t.Fatal("no up migrations embedded")
	}
	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		if _, err := fs.Stat(db.MigrationFS, down); err != nil {
			t.Errorf("%s has no matching %s", up, down)
		}
	}
}

func TestMigrationFS_CreatesRepositoryTables(t *testing.T) {
	b, err := fs.ReadFile(db.MigrationFS, "migrations/000001_init.up.sql")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	sql := string(b)
	for _, table := range []string{"users", "refresh_tokens", "token_blacklist", "audit_logs"} {
		if !strings.Contains(sql, "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Errorf("init migration does not create %s", table)
		}
	}
}

func TestErrNoChange(t *testing.T) {
	if ErrNoChange == nil {
		t.Fatal("ErrNoChange should not be nil")
	}
}
