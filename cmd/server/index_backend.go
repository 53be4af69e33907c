package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"boiding.ai/internal/persistence/indexdb"
	"boiding.ai/internal/sim/authority"
)

type runtimeIndex interface {
	authority.EventSink
	Events(ctx context.Context, team string, limit int) ([]authority.TeamEvent, error)
	Stats() indexdb.Stats
	Close() error
}

func openRuntimeIndex(dataDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("BOIDING_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		idx, err := indexdb.OpenSQLite(filepath.Join(dataDir, "index", "events.sqlite"))
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported BOIDING_INDEX_BACKEND: %s", backend)
	}
}
