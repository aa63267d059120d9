package testsupport

import (
	"testing"

	"docflow/internal/config"
	"docflow/internal/state"
)

// MustOpenStore opens a state.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config, opts ...state.Option) *state.Store {
	t.Helper()

	store, err := state.Open(cfg, opts...)
	if err != nil {
		t.Fatalf("state.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
