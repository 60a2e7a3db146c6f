package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cp5337/sx9-sub010/internal/identity"
	"github.com/cp5337/sx9-sub010/internal/testutil"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestGenerator returns a generator with deterministic persistence codes.
func createTestGenerator() *identity.Generator {
	return identity.NewGenerator(testutil.NewSequenceSource(testutil.Epoch))
}

func testContext(at time.Time) identity.ContextDescriptor {
	return identity.ContextDescriptor{
		Timestamp:   at,
		Environment: identity.EnvironmentFingerprint("test"),
		Agent:       7,
		State:       identity.Warm,
		Lineage:     1,
	}
}
