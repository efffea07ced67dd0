package kvstore

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// Open builds the store selected by backend ("file" or "sqlite") inside dir.
func Open(ctx context.Context, backend, dir string) (Store, error) {
	switch backend {
	case "", "file":
		return NewFileStore(afero.NewOsFs(), filepath.Join(dir, "store.json"))
	case "sqlite":
		return OpenSQLite(ctx, filepath.Join(dir, "store.db"))
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
