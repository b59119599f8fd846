package database

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// openTestDB creates a temporary database for testing.
func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return db
}

func TestOpen(t *testing.T) {
	t.Run("creates nested directories and file", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "data", "nested", "voicebridge.db")

		db, err := Open(Config{Path: dbPath, WALMode: true, BusyTimeout: 5})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer db.Close() //nolint:errcheck // test cleanup

		if _, err := os.Stat(dbPath); err != nil {
			t.Errorf("database file not created: %v", err)
		}
		if db.Path() != dbPath {
			t.Errorf("Path() = %v, want %v", db.Path(), dbPath)
		}
	})

	t.Run("empty path", func(t *testing.T) {
		if _, err := Open(Config{}); err == nil {
			t.Error("Open() with empty path should fail")
		}
	})
}

func TestConnectionString(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		want    []string
		wantNot []string
	}{
		{
			name: "wal",
			cfg:  Config{Path: "/tmp/a.db", WALMode: true, BusyTimeout: 5},
			want: []string{"file:/tmp/a.db?", "_busy_timeout=5000", "_journal_mode=WAL", "_foreign_keys=on"},
		},
		{
			name:    "rollback journal",
			cfg:     Config{Path: "/tmp/b.db", BusyTimeout: 1},
			want:    []string{"_busy_timeout=1000"},
			wantNot: []string{"_journal_mode"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := connectionString(tt.cfg)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("connectionString() = %q, missing %q", got, w)
				}
			}
			for _, w := range tt.wantNot {
				if strings.Contains(got, w) {
					t.Errorf("connectionString() = %q, unexpected %q", got, w)
				}
			}
		})
	}
}

func TestHealthCheck(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // test cleanup

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestClose(t *testing.T) {
	db := openTestDB(t)

	if err := db.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	db.DB = nil
	if err := db.Close(); err != nil {
		t.Errorf("Close() on nil DB error = %v", err)
	}

	var none *DB
	if err := none.Close(); err != nil {
		t.Errorf("Close() on nil handle error = %v", err)
	}
}

func TestTransactions(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // test cleanup

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "CREATE TABLE tx_test (id INTEGER PRIMARY KEY, device TEXT)"); err != nil {
		t.Fatalf("CREATE TABLE error = %v", err)
	}

	for _, commit := range []bool{true, false} {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			t.Fatalf("BeginTx() error = %v", err)
		}
		device := "rolled_back"
		if commit {
			device = "committed"
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO tx_test (device) VALUES (?)", device); err != nil {
			t.Fatalf("INSERT error = %v", err)
		}
		if commit {
			err = tx.Commit()
		} else {
			err = tx.Rollback()
		}
		if err != nil {
			t.Fatalf("finish transaction error = %v", err)
		}
	}

	for device, want := range map[string]int{"committed": 1, "rolled_back": 0} {
		var count int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tx_test WHERE device = ?", device).Scan(&count); err != nil {
			t.Fatalf("SELECT error = %v", err)
		}
		if count != want {
			t.Errorf("rows for %s = %d, want %d", device, count, want)
		}
	}
}

func TestExecContext_WrapsError(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // test cleanup

	_, err := db.ExecContext(context.Background(), "INSERT INTO missing_table VALUES (1)")
	if err == nil || !strings.Contains(err.Error(), "executing query") {
		t.Errorf("ExecContext() error = %v, want wrapped error", err)
	}
}

func TestStatsAndSize(t *testing.T) {
	db, err := Open(Config{Path: filepath.Join(t.TempDir(), "size.db"), BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // test cleanup

	if db.Stats().MaxOpenConnections != 1 {
		t.Errorf("MaxOpenConnections = %v, want 1", db.Stats().MaxOpenConnections)
	}

	if _, err := db.ExecContext(context.Background(), "CREATE TABLE size_test (v TEXT)"); err != nil {
		t.Fatalf("CREATE TABLE error = %v", err)
	}
	if db.SizeBytes() <= 0 {
		t.Errorf("SizeBytes() = %d, want > 0", db.SizeBytes())
	}

	missing := &DB{path: filepath.Join(t.TempDir(), "absent.db")}
	if missing.SizeBytes() != 0 {
		t.Error("SizeBytes() for missing file should be 0")
	}
}
