package history

import (
	"context"
	"hash/fnv"
	"sync"
)

const stripeCount = 16

// MemoryStore holds transcripts in process memory. Keys are spread over
// a fixed set of mutex stripes so appends for one guest never block
// another guest's turn.
type MemoryStore struct {
	capacity int
	stripes  [stripeCount]struct {
		mu    sync.Mutex
		turns map[string][]Turn
	}
}

func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	ms := &MemoryStore{capacity: capacity}
	for i := range ms.stripes {
		ms.stripes[i].turns = make(map[string][]Turn)
	}
	return ms
}

func (m *MemoryStore) stripe(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % stripeCount)
}

func (m *MemoryStore) Append(ctx context.Context, key string, turn Turn) error {
	s := &m.stripes[m.stripe(key)]
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := append(s.turns[key], turn)
	if len(turns) > m.capacity {
		trimmed := make([]Turn, m.capacity)
		copy(trimmed, turns[len(turns)-m.capacity:])
		turns = trimmed
	}
	s.turns[key] = turns
	return nil
}

func (m *MemoryStore) Recent(ctx context.Context, key string, n int) ([]Turn, error) {
	s := &m.stripes[m.stripe(key)]
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := s.turns[key]
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out, nil
}

// Dump copies every transcript, for checkpointing.
func (m *MemoryStore) Dump() map[string][]Turn {
	all := make(map[string][]Turn)
	for i := range m.stripes {
		s := &m.stripes[i]
		s.mu.Lock()
		for key, turns := range s.turns {
			out := make([]Turn, len(turns))
			copy(out, turns)
			all[key] = out
		}
		s.mu.Unlock()
	}
	return all
}

// Restore replaces stored transcripts with the checkpointed ones,
// trimming each to capacity.
func (m *MemoryStore) Restore(all map[string][]Turn) {
	for key, turns := range all {
		if len(turns) > m.capacity {
			turns = turns[len(turns)-m.capacity:]
		}
		out := make([]Turn, len(turns))
		copy(out, turns)

		s := &m.stripes[m.stripe(key)]
		s.mu.Lock()
		s.turns[key] = out
		s.mu.Unlock()
	}
}
