package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	ceremonyRecordVersion1 = 1
	maxCeremonyPayload     = 1 << 20
	maxRetries             = 4
)

var (
	ErrCeremonyNotFound = errors.New("ceremony not found")
	ErrCeremonyExpired  = errors.New("ceremony expired")
	ErrCeremonyStage    = errors.New("ceremony in unexpected stage")
	ErrCeremonyBackend  = errors.New("ceremony backend unavailable")
)

// CeremonyRecord is the server-held half of a WebAuthn ceremony. Payload is
// opaque to the store.
type CeremonyRecord struct {
	Kind      uint8
	Stage     uint8
	ExpiresAt int64
	Payload   []byte
}

type RedisCeremonyStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisCeremonyStore(redisClient redis.UniversalClient, prefix string) *RedisCeremonyStore {
	if prefix == "" {
		prefix = "wac"
	}
	return &RedisCeremonyStore{
		redis:  redisClient,
		prefix: prefix,
		now:    time.Now,
	}
}

func (s *RedisCeremonyStore) key(id string) string {
	return s.prefix + ":" + id
}

func (s *RedisCeremonyStore) Save(ctx context.Context, id string, record *CeremonyRecord, ttl time.Duration) error {
	encoded, err := encodeCeremonyRecord(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(id), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCeremonyBackend, err)
	}
	return nil
}

// Advance moves the record from stage from to stage to. update receives the
// current payload and returns the replacement; an error from update leaves
// the record untouched and is returned as is. The remaining TTL is kept and
// two concurrent advances cannot both succeed.
func (s *RedisCeremonyStore) Advance(ctx context.Context, id string, from, to uint8, update func([]byte) ([]byte, error)) error {
	key := s.key(id)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			record, err := s.readLive(ctx, tx, key)
			if err != nil {
				return err
			}
			if record.Stage != from {
				return ErrCeremonyStage
			}

			payload, err := update(record.Payload)
			if err != nil {
				return &updateError{err: err}
			}

			ttl := time.Until(time.Unix(record.ExpiresAt, 0))
			if ttl <= 0 {
				ttl = time.Second
			}

			record.Stage = to
			record.Payload = payload
			updated, err := encodeCeremonyRecord(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		var ue *updateError
		if errors.As(err, &ue) {
			return ue.err
		}
		return s.mapErr(err)
	}

	return ErrCeremonyStage
}

// Consume deletes and returns the record when it is in stage. The record is
// gone after a successful call, so a ceremony can complete at most once.
func (s *RedisCeremonyStore) Consume(ctx context.Context, id string, stage uint8) (*CeremonyRecord, error) {
	key := s.key(id)

	for i := 0; i < maxRetries; i++ {
		var out *CeremonyRecord
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			record, err := s.readLive(ctx, tx, key)
			if err != nil {
				return err
			}
			if record.Stage != stage {
				return ErrCeremonyStage
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			if err != nil {
				return err
			}
			out = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, s.mapErr(err)
		}
		return out, nil
	}

	return nil, ErrCeremonyNotFound
}

func (s *RedisCeremonyStore) Delete(ctx context.Context, id string) error {
	if err := s.redis.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCeremonyBackend, err)
	}
	return nil
}

func (s *RedisCeremonyStore) readLive(ctx context.Context, tx *redis.Tx, key string) (*CeremonyRecord, error) {
	data, err := tx.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}
	record, err := decodeCeremonyRecord(data)
	if err != nil {
		return nil, err
	}
	if s.now().Unix() > record.ExpiresAt {
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		if err != nil {
			return nil, err
		}
		return nil, ErrCeremonyExpired
	}
	return record, nil
}

func (s *RedisCeremonyStore) mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return ErrCeremonyNotFound
	case errors.Is(err, ErrCeremonyExpired), errors.Is(err, ErrCeremonyStage):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrCeremonyBackend, err)
	}
}

// updateError carries a caller error out of a WATCH callback so it is not
// mistaken for a backend failure.
type updateError struct {
	err error
}

func (e *updateError) Error() string { return e.err.Error() }

func encodeCeremonyRecord(record *CeremonyRecord) ([]byte, error) {
	if record == nil {
		return nil, errors.New("nil ceremony record")
	}
	if len(record.Payload) > maxCeremonyPayload {
		return nil, errors.New("ceremony payload too large")
	}

	var buf bytes.Buffer
	buf.Grow(1 + 2 + 8 + 4 + len(record.Payload))
	buf.WriteByte(ceremonyRecordVersion1)
	buf.WriteByte(record.Kind)
	buf.WriteByte(record.Stage)

	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(record.Payload))); err != nil {
		return nil, err
	}
	buf.Write(record.Payload)

	return buf.Bytes(), nil
}

func decodeCeremonyRecord(data []byte) (*CeremonyRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != ceremonyRecordVersion1 {
		return nil, errors.New("invalid ceremony record version")
	}

	record := &CeremonyRecord{}
	if record.Kind, err = reader.ReadByte(); err != nil {
		return nil, err
	}
	if record.Stage, err = reader.ReadByte(); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var payloadLen uint32
	if err := binary.Read(reader, binary.BigEndian, &payloadLen); err != nil {
		return nil, err
	}
	if payloadLen > maxCeremonyPayload {
		return nil, errors.New("ceremony payload too large")
	}
	record.Payload = make([]byte, payloadLen)
	if _, err := io.ReadFull(reader, record.Payload); err != nil {
		return nil, err
	}

	return record, nil
}
