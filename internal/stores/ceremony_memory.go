package stores

import (
	"context"
	"sync"
	"time"
)

type memoryCeremony struct {
	record  CeremonyRecord
	expires time.Time
}

// MemoryCeremonyStore keeps ceremonies in process memory. It is meant for
// single-instance deployments and tests; ceremonies do not survive a restart.
type MemoryCeremonyStore struct {
	mu    sync.Mutex
	items map[string]memoryCeremony
	now   func() time.Time
}

func NewMemoryCeremonyStore() *MemoryCeremonyStore {
	return &MemoryCeremonyStore{
		items: make(map[string]memoryCeremony),
		now:   time.Now,
	}
}

func (s *MemoryCeremonyStore) Save(ctx context.Context, id string, record *CeremonyRecord, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if record == nil {
		return ErrCeremonyNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()
	s.items[id] = memoryCeremony{
		record:  copyCeremonyRecord(*record),
		expires: s.now().Add(ttl),
	}
	return nil
}

func (s *MemoryCeremonyStore) Advance(ctx context.Context, id string, from, to uint8, update func([]byte) ([]byte, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, err := s.liveLocked(id)
	if err != nil {
		return err
	}
	if item.record.Stage != from {
		return ErrCeremonyStage
	}

	payload, err := update(append([]byte(nil), item.record.Payload...))
	if err != nil {
		return err
	}

	item.record.Stage = to
	item.record.Payload = append([]byte(nil), payload...)
	s.items[id] = item
	return nil
}

func (s *MemoryCeremonyStore) Consume(ctx context.Context, id string, stage uint8) (*CeremonyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, err := s.liveLocked(id)
	if err != nil {
		return nil, err
	}
	if item.record.Stage != stage {
		return nil, ErrCeremonyStage
	}

	delete(s.items, id)
	out := copyCeremonyRecord(item.record)
	return &out, nil
}

func (s *MemoryCeremonyStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
	return nil
}

// Len reports how many ceremonies are held, expired ones included.
func (s *MemoryCeremonyStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *MemoryCeremonyStore) liveLocked(id string) (memoryCeremony, error) {
	item, ok := s.items[id]
	if !ok {
		return memoryCeremony{}, ErrCeremonyNotFound
	}
	now := s.now()
	if now.After(item.expires) || now.Unix() > item.record.ExpiresAt {
		delete(s.items, id)
		return memoryCeremony{}, ErrCeremonyExpired
	}
	return item, nil
}

func (s *MemoryCeremonyStore) sweepLocked() {
	now := s.now()
	for id, item := range s.items {
		if now.After(item.expires) {
			delete(s.items, id)
		}
	}
}

func copyCeremonyRecord(record CeremonyRecord) CeremonyRecord {
	record.Payload = append([]byte(nil), record.Payload...)
	return record
}
