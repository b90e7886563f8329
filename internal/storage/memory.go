package storage

import "sync"

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *MemoryStore) Put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStore) Update(key string, fn UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current []byte
	if v, ok := s.data[key]; ok {
		current = append([]byte(nil), v...)
	}

	next, err := fn(current)
	if err != nil {
		return err
	}
	s.data[key] = append([]byte(nil), next...)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
