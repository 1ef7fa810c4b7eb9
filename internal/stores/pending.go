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

	"github.com/MrEthical07/goLinkAuth/internal/records"
)

const pendingRecordVersion1 = 1

var (
	ErrPendingNotFound = errors.New("pending second factor not found")
	ErrPendingExpired  = errors.New("pending second factor expired")
	ErrPendingBackend  = errors.New("pending second factor backend unavailable")
)

// PendingStore keeps PendingSecondFactor markers in Redis.
type PendingStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewPendingStore creates a store using prefix as the key namespace ("lpf" when empty).
func NewPendingStore(redisClient redis.UniversalClient, prefix string) *PendingStore {
	if prefix == "" {
		prefix = "lpf"
	}
	return &PendingStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *PendingStore) key(id string) string {
	return s.prefix + ":" + id
}

// Save writes record under id with the given TTL.
func (s *PendingStore) Save(ctx context.Context, id string, record *records.PendingSecondFactor, ttl time.Duration) error {
	encoded, err := encodePending(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(id), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrPendingBackend, err)
	}
	return nil
}

// Get returns the marker without consuming it. Markers whose ExpiresAt has
// passed at now are deleted and reported as ErrPendingExpired.
func (s *PendingStore) Get(ctx context.Context, id string, now time.Time) (*records.PendingSecondFactor, error) {
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrPendingNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPendingBackend, err)
	}

	record, err := decodePending(data)
	if err != nil {
		return nil, err
	}
	if now.Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(id)).Result()
		return nil, ErrPendingExpired
	}
	return record, nil
}

// Take atomically removes and returns the marker. When several callers race,
// only one receives the record; the others get ErrPendingNotFound.
func (s *PendingStore) Take(ctx context.Context, id string, now time.Time) (*records.PendingSecondFactor, error) {
	data, err := s.redis.GetDel(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrPendingNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPendingBackend, err)
	}

	record, err := decodePending(data)
	if err != nil {
		return nil, err
	}
	if now.Unix() > record.ExpiresAt {
		return nil, ErrPendingExpired
	}
	return record, nil
}

// Delete removes the marker and reports whether it existed.
func (s *PendingStore) Delete(ctx context.Context, id string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrPendingBackend, err)
	}
	return n > 0, nil
}

// RecordFailure increments the marker's attempt counter. When the counter
// reaches maxAttempts the marker is deleted and exceeded is true.
func (s *PendingStore) RecordFailure(ctx context.Context, id string, maxAttempts int, now time.Time) (bool, error) {
	const maxRetries = 4
	key := s.key(id)

	for i := 0; i < maxRetries; i++ {
		var exceeded bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodePending(data)
			if err != nil {
				return err
			}

			ttl := time.Unix(record.ExpiresAt, 0).Sub(now)
			if ttl <= 0 {
				if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				}); err != nil {
					return err
				}
				return ErrPendingExpired
			}

			record.Attempts++
			if int(record.Attempts) >= maxAttempts {
				exceeded = true
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			updated, err := encodePending(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, redis.KeepTTL)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return false, ErrPendingNotFound
			}
			if errors.Is(err, ErrPendingExpired) {
				return false, err
			}
			return false, fmt.Errorf("%w: %v", ErrPendingBackend, err)
		}
		return exceeded, nil
	}

	return false, ErrPendingNotFound
}

func encodePending(record *records.PendingSecondFactor) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(pendingRecordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	for _, field := range []string{record.PrincipalID, record.Method, record.Redirect} {
		if len(field) > 65535 {
			return nil, errors.New("pending record field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}

	return buf.Bytes(), nil
}

func decodePending(data []byte) (*records.PendingSecondFactor, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != pendingRecordVersion1 {
		return nil, errors.New("invalid pending record version")
	}

	record := &records.PendingSecondFactor{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	fields := make([]string, 3)
	for i := range fields {
		var n uint16
		if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		raw := make([]byte, n)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, err
		}
		fields[i] = string(raw)
	}
	record.PrincipalID, record.Method, record.Redirect = fields[0], fields[1], fields[2]

	return record, nil
}
