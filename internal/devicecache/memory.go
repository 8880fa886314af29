package devicecache

import "sync"

// memoryByteDiscount scales the byte counter down after a release batch.
// Released handles may still be referenced by readers for a while, so the
// counter is discounted by a fixed factor instead of recomputed from the
// surviving entries.
const memoryByteDiscount = 0.7

// releaseFraction is the share of oldest handles dropped when either
// memory cap is exceeded.
const releaseFraction = 0.3

type memEntry struct {
	data []byte
	seq  int64
}

// memoryTier holds decoded payloads as live handles. Eviction is coarse:
// when a cap is hit, the oldest third goes at once, so steady traffic does
// not evict one entry per insert.
type memoryTier struct {
	maxHandles int
	maxBytes   int64

	mu      sync.Mutex
	entries map[string]*memEntry
	bytes   int64
	nextSeq int64
}

func newMemoryTier(maxHandles int, maxBytes int64) *memoryTier {
	return &memoryTier{
		maxHandles: maxHandles,
		maxBytes:   maxBytes,
		entries:    map[string]*memEntry{},
	}
}

func (m *memoryTier) get(url string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[url]
	if !ok {
		return nil, false
	}
	return entry.data, true
}

func (m *memoryTier) put(url string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.entries[url]; ok {
		m.bytes -= int64(len(old.data))
	}
	m.entries[url] = &memEntry{data: data, seq: m.nextSeq}
	m.nextSeq++
	m.bytes += int64(len(data))
	if len(m.entries) > m.maxHandles || m.bytes > m.maxBytes {
		m.releaseOldestLocked()
	}
}

// releaseOldestLocked drops the oldest releaseFraction of handles by
// insertion order, then discounts the byte counter.
func (m *memoryTier) releaseOldestLocked() {
	count := int(float64(len(m.entries)) * releaseFraction)
	if count < 1 {
		count = 1
	}
	for i := 0; i < count; i++ {
		oldestURL := ""
		oldestSeq := int64(-1)
		for url, entry := range m.entries {
			if oldestSeq < 0 || entry.seq < oldestSeq {
				oldestSeq = entry.seq
				oldestURL = url
			}
		}
		if oldestURL == "" {
			break
		}
		delete(m.entries, oldestURL)
	}
	m.bytes = int64(float64(m.bytes) * memoryByteDiscount)
}

func (m *memoryTier) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = map[string]*memEntry{}
	m.bytes = 0
}

func (m *memoryTier) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
