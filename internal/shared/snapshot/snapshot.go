// Package snapshot persists dynamic-table state for offline inspection.
// Snapshots are msgpack files guarded by an advisory lock so concurrent
// CLI invocations do not interleave writes.
package snapshot

import (
	"fmt"
	"os"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"seep/internal/shared/compression/qpack"
)

// State is the on-disk snapshot envelope.
type State struct {
	SavedAt time.Time        `msgpack:"saved_at"`
	Session string           `msgpack:"session,omitempty"`
	Table   qpack.TableState `msgpack:"table"`
}

// Save writes st to path atomically: marshal, lock, write, rename.
func Save(path string, st *State) error {
	data, err := msgpack.Marshal(st)
	if err != nil {
		return fmt.Errorf("snapshot marshal: %w", err)
	}

	f, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("snapshot lock: %w", err)
	}
	defer f.Close()
	if err := lockFile(f); err != nil {
		return fmt.Errorf("snapshot lock: %w", err)
	}
	defer unlockFile(f)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("snapshot write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("snapshot rename: %w", err)
	}
	return nil
}

// Load reads a snapshot from path.
func Load(path string) (*State, error) {
	f, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("snapshot lock: %w", err)
	}
	defer f.Close()
	if err := lockFile(f); err != nil {
		return nil, fmt.Errorf("snapshot lock: %w", err)
	}
	defer unlockFile(f)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot read: %w", err)
	}
	var st State
	if err := msgpack.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("snapshot unmarshal: %w", err)
	}
	return &st, nil
}
