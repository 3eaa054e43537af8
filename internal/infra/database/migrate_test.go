package database

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/muniportal/portal-auth/internal/infra/config"
)

func TestMigrateRejectsBadInput(t *testing.T) {
	if err := Migrate("", "up"); err == nil {
		t.Fatal("expected error for empty dsn")
	}
	for _, direction := range []string{"", "UP", "sideways"} {
		if err := Migrate("postgres://localhost/portal", direction); err == nil || !strings.Contains(err.Error(), "direction") {
			t.Fatalf("expected direction error for %q, got %v", direction, err)
		}
	}
}

func TestMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}

	ups, downs := map[string]bool{}, map[string]bool{}
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Fatalf("unexpected file %s", name)
		}
	}
	if len(ups) == 0 {
		t.Fatal("no migrations embedded")
	}
	for version := range ups {
		if !downs[version] {
			t.Fatalf("migration %s has no down file", version)
		}
	}
}

func TestInitialMigrationDefinesSessionGuard(t *testing.T) {
	data, err := fs.ReadFile(migrationFS, "migrations/000001_init.up.sql")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	sql := string(data)
	for _, want := range []string{"portal.accounts", "portal.sessions", "portal.session_events", "sessions_guard_trg", "WHERE is_active"} {
		if !strings.Contains(sql, want) {
			t.Fatalf("expected %q in initial migration", want)
		}
	}
}

func TestDSN(t *testing.T) {
	dsn := DSN(config.PostgresSettings{Host: "db", Port: 5432, User: "portal", Password: "p@ss word", Database: "portal", SSLMode: "require"})
	if dsn != "postgres://portal:p%40ss%20word@db:5432/portal?sslmode=require" {
		t.Fatalf("unexpected dsn %s", dsn)
	}
}
