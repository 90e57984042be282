//go:build !unix

package snapshot

import "os"

// Non-unix platforms fall back to the atomic rename alone.
func lockFile(*os.File) error   { return nil }
func unlockFile(*os.File) error { return nil }
