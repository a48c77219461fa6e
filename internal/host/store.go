package host

import (
	"fmt"
	"os"

	"cosmossdk.io/store/dbadapter"
	dbm "github.com/cosmos/cosmos-db"
)

// Backend names accepted by Open.
const (
	BackendMemory    = "memory"
	BackendGoLevelDB = "goleveldb"
)

// StoreConfig selects the committed key-value database.
type StoreConfig struct {
	Backend string
	Dir     string
	Name    string
}

func openDB(cfg StoreConfig) (dbm.DB, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return dbm.NewMemDB(), nil
	case BackendGoLevelDB:
		if cfg.Dir == "" {
			return nil, fmt.Errorf("store: %s backend needs a directory", cfg.Backend)
		}
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create dir: %w", err)
		}
		name := cfg.Name
		if name == "" {
			name = "settle"
		}
		db, err := dbm.NewDB(name, dbm.GoLevelDBBackend, cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("store: open %s/%s: %w", cfg.Dir, name, err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
}

// batchStore reads from the committed database and routes every write into
// a single batch, so a flushed branch lands atomically.
type batchStore struct {
	dbadapter.Store
	batch dbm.Batch
}

func (s batchStore) Set(key, value []byte) {
	if err := s.batch.Set(key, value); err != nil {
		panic(err)
	}
}

func (s batchStore) Delete(key []byte) {
	if err := s.batch.Delete(key); err != nil {
		panic(err)
	}
}
