package testutil

import (
	"path/filepath"
	"testing"

	"github.com/tvu/mailcache/internal/store"
)

// NewTestStore creates a SQLiteStore backed by a file in a per-test temp
// directory, with all migrations applied. It automatically closes the store
// when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.New(filepath.Join(t.TempDir(), "mailcache.db"))
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}
