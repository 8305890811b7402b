package migration

import (
	"strings"
	"testing"
)

func TestLatestVersion(t *testing.T) {
	v, err := LatestVersion()
	if err != nil {
		t.Fatalf("LatestVersion error: %v", err)
	}
	if v != 1 {
		t.Fatalf("expected latest version 1, got %d", v)
	}
}

func TestMigrationsCarryGooseAnnotations(t *testing.T) {
	entries, err := embedMigrations.ReadDir(migrationsDir)
	if err != nil {
		t.Fatalf("ReadDir error: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("no embedded migrations")
	}
	for _, entry := range entries {
		data, err := embedMigrations.ReadFile(migrationsDir + "/" + entry.Name())
		if err != nil {
			t.Fatalf("ReadFile %s: %v", entry.Name(), err)
		}
		body := string(data)
		if !strings.Contains(body, "-- +goose Up") || !strings.Contains(body, "-- +goose Down") {
			t.Fatalf("%s lacks goose up/down markers", entry.Name())
		}
	}
}
