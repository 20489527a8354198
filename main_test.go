package main

import (
	"errors"
	"fmt"
	"testing"

	"flat-notifier/storage"
	"flat-notifier/utils"
)

func TestIsStoreError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"store failure", &storage.StoreCorruptionError{Op: "prune", Err: errors.New("disk I/O error")}, true},
		{"wrapped store failure", fmt.Errorf("run: %w", &storage.StoreCorruptionError{Op: "upsert", Err: errors.New("locked")}), true},
		{"cancelled", errors.New("context canceled"), false},
	}

	for _, tt := range tests {
		if got := isStoreError(utils.Discard(), tt.err); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestRunReturnsExitCode(t *testing.T) {
	t.Setenv("TG_BOT_TOKEN", "")
	t.Setenv("CHAT_IDS", "")
	if code := run(); code != 1 {
		t.Errorf("invalid config: exit code %d, want 1", code)
	}

	t.Setenv("TG_BOT_TOKEN", "123:abc")
	t.Setenv("CHAT_IDS", "100")
	t.Setenv("STORE_DRIVER", "sqlite3")
	t.Setenv("STORE_PATH", t.TempDir())
	t.Setenv("DAEMON", "false")
	if code := run(); code != 1 {
		t.Errorf("unusable store: exit code %d, want 1", code)
	}
}
