package migrate

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/evanshlom/AwsAiProd/db/migrations"
)

func TestNewRejectsMissingInputs(t *testing.T) {
	if _, err := New(nil, "postgres://x", "", nil); err == nil {
		t.Fatal("expected error for nil pool")
	}
}

func TestEmbeddedMigrationsCarryGooseAnnotations(t *testing.T) {
	entries, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		t.Fatalf("glob embedded migrations: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected embedded migrations")
	}
	for _, name := range entries {
		raw, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		body := string(raw)
		if !strings.Contains(body, "-- +goose Up") || !strings.Contains(body, "-- +goose Down") {
			t.Fatalf("%s lacks goose up/down sections", name)
		}
	}
}
