// Package cmd provides common initialization for command-line binaries.
package cmd

import (
	"fmt"
	"strings"

	"github.com/relayworks/relay/pkg/persistence"
	"github.com/relayworks/relay/pkg/persistence/file"
	"github.com/relayworks/relay/pkg/persistence/redis"
)

// NewPersistence selects a store from the database URL scheme. Anything
// without a recognized scheme falls back to the file store.
func NewPersistence(databaseURL string) (persistence.Persistence, error) {
	switch {
	case strings.HasPrefix(databaseURL, "redis://"):
		return redis.NewRedisPersistence(databaseURL)
	case strings.HasPrefix(databaseURL, "file://"), !strings.Contains(databaseURL, "://"):
		return file.NewFilePersistence(databaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported database URL %q", databaseURL)
	}
}
