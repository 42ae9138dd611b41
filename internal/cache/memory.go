package cache

import "sync"

// Memory is an in-process Store with an optional byte quota. A quota of
// zero means unlimited. It doubles as the test stand-in for the file
// cache.
type Memory struct {
	mu    sync.RWMutex
	data  map[string][]byte
	quota int
}

func NewMemory(quota int) *Memory {
	return &Memory{data: map[string][]byte{}, quota: quota}
}

func (m *Memory) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true
}

func (m *Memory) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.quota > 0 {
		used := 0
		for k, v := range m.data {
			if k == key {
				continue
			}
			used += len(v)
		}
		if used+len(value) > m.quota {
			return ErrQuotaExceeded
		}
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[key] = cp
	return nil
}

func (m *Memory) Delete(key string) {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
}
