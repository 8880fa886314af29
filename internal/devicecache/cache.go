package devicecache

import (
	"context"
	"log/slog"

	"github.com/chatvault/chatvault/internal/platform"
)

// Default tier limits.
const (
	DefaultMemoryHandleCap = 30
	DefaultMemoryByteCap   = 50 << 20
	DefaultItemByteCeiling = 12 << 20
	DefaultPersistentCap   = 500
)

// Options tunes the tier caps.
type Options struct {
	MemoryHandleCap int
	MemoryByteCap   int64
	ItemByteCeiling int64
	PersistentCap   int
}

func (o Options) withDefaults() Options {
	if o.MemoryHandleCap <= 0 {
		o.MemoryHandleCap = DefaultMemoryHandleCap
	}
	if o.MemoryByteCap <= 0 {
		o.MemoryByteCap = DefaultMemoryByteCap
	}
	if o.ItemByteCeiling <= 0 {
		o.ItemByteCeiling = DefaultItemByteCeiling
	}
	if o.PersistentCap <= 0 {
		o.PersistentCap = DefaultPersistentCap
	}
	return o
}

// Service is a two-tier payload cache keyed by source url: fast in-memory
// handles over a sqlite store that survives restarts. A persistent hit is
// promoted into the memory tier on read. Payloads above the per-item
// ceiling are never cached; the caller gets an OversizeError carrying the
// url to stream from instead.
type Service struct {
	mem     *memoryTier
	store   *persistentTier
	fetcher platform.Fetcher
	opts    Options
	logger  *slog.Logger
}

func NewService(log *slog.Logger, dbPath string, fetcher platform.Fetcher, opts Options) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}
	opts = opts.withDefaults()
	store, err := openPersistent(dbPath, opts.PersistentCap)
	if err != nil {
		return nil, err
	}
	return &Service{
		mem:     newMemoryTier(opts.MemoryHandleCap, opts.MemoryByteCap),
		store:   store,
		fetcher: fetcher,
		opts:    opts,
		logger:  log.With(slog.String("service", "devicecache")),
	}, nil
}

// Get is get-or-fetch, not a pure lookup: a miss in both tiers downloads
// from the source and populates the cache in the same call. ErrNotCached is
// only possible when no fetcher is configured. ownerChannelKey tags the
// persistent row with the conversation that first needed the payload.
func (s *Service) Get(ctx context.Context, url, ownerChannelKey string) ([]byte, error) {
	if data, ok := s.mem.get(url); ok {
		return data, nil
	}
	data, ok, err := s.store.get(ctx, url)
	if err != nil {
		s.logger.Warn("persistent tier read failed", slog.Any("error", err))
	} else if ok {
		s.mem.put(url, data)
		return data, nil
	}
	if s.fetcher == nil {
		return nil, ErrNotCached
	}
	data, _, err = s.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := s.Put(ctx, url, data, ownerChannelKey); err != nil {
		return nil, err
	}
	return data, nil
}

// Put stores a payload in both tiers. Payloads above the per-item ceiling
// are rejected with an OversizeError. A persistent write failure is logged
// and swallowed; the memory handle still serves the session.
func (s *Service) Put(ctx context.Context, url string, data []byte, ownerChannelKey string) error {
	if int64(len(data)) > s.opts.ItemByteCeiling {
		return &OversizeError{URL: url, Size: int64(len(data))}
	}
	s.mem.put(url, data)
	if err := s.store.put(ctx, url, data, ownerChannelKey); err != nil {
		s.logger.Warn("persistent tier write failed", slog.Any("error", err))
	}
	return nil
}

// Reset drops both tiers, recreating the persistent store empty.
func (s *Service) Reset(ctx context.Context) error {
	s.mem.clear()
	return s.store.reset(ctx)
}

// Close releases the persistent store.
func (s *Service) Close() error {
	return s.store.close()
}
