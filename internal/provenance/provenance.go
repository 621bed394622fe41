package provenance

import (
	"context"
	"fmt"
	"sync"

	"mailrelay/internal/config"
)

// Record links a relayed email to the stored message it came from and the
// chat post it produced.
type Record struct {
	MessageID    string
	MessageURL   string
	PostedPostID int64
}

// Store persists one record per message id. Concurrent writes to the same id
// are last-write-wins.
type Store interface {
	Put(ctx context.Context, rec Record) error
	// Get reports ok=false for an unknown id.
	Get(ctx context.Context, messageID string) (Record, bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open builds the backend selected by store.driver.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.Store.Driver {
	case "postgres", "sqlite":
		st, err := OpenSQL(cfg.Store.Driver, cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, err
		}
		return st, nil
	case "redis":
		return NewRedis(cfg.Store.RedisURL, cfg.Store.KeyPrefix)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemory() *Memory {
	return &Memory{records: map[string]Record{}}
}

func (m *Memory) Put(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.MessageID] = rec
	return nil
}

func (m *Memory) Get(_ context.Context, messageID string) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[messageID]
	return rec, ok, nil
}

func (m *Memory) Ping(context.Context) error { return nil }
func (m *Memory) Close() error               { return nil }
