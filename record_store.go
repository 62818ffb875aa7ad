package passcode

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	identityRecordVersionV1  = 1
	challengeRecordVersionV1 = 1
)

var (
	errRecordNotFound         = errors.New("record not found")
	errRecordRedisUnavailable = errors.New("record redis unavailable")
	errRecordCorrupt          = errors.New("record corrupt")
)

// RedisRecordStore is the production [RecordStore] backed by Redis.
//
// Identities are keyed twice: an address key holding the identity ID
// (created with SETNX so address uniqueness holds under concurrent
// creation) and an ID key holding the encoded record. Challenges are stored
// under their own ID and indexed per identity in a sorted set scored by a
// global INCR sequence, which makes "latest challenge" well-defined even
// when two challenges are created within the same clock tick.
//
// Superseded challenges are left in place; the engine never matches them
// and storage cleanup is an operational concern outside this store.
type RedisRecordStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisRecordStore creates a [RedisRecordStore] with the given key prefix.
func NewRedisRecordStore(client redis.UniversalClient, prefix string) *RedisRecordStore {
	return &RedisRecordStore{
		redis:  client,
		prefix: prefix,
	}
}

func (s *RedisRecordStore) addressKey(address string) string {
	return s.prefix + ":addr:" + address
}

func (s *RedisRecordStore) identityKey(identityID string) string {
	return s.prefix + ":id:" + identityID
}

func (s *RedisRecordStore) challengeKey(challengeID string) string {
	return s.prefix + ":ch:" + challengeID
}

func (s *RedisRecordStore) challengeIndexKey(identityID string) string {
	return s.prefix + ":chx:" + identityID
}

func (s *RedisRecordStore) sequenceKey() string {
	return s.prefix + ":seq"
}

// FindIdentity describes the findidentity operation and its observable behavior.
//
// FindIdentity may return an error when input validation, dependency calls, or security checks fail.
// FindIdentity does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *RedisRecordStore) FindIdentity(ctx context.Context, address string) (*Identity, error) {
	identityID, err := s.redis.Get(ctx, s.addressKey(address)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", errRecordRedisUnavailable, err)
	}

	return s.getIdentity(ctx, identityID)
}

// CreateIdentity describes the createidentity operation and its observable behavior.
//
// CreateIdentity may return an error when input validation, dependency calls, or security checks fail.
// CreateIdentity does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *RedisRecordStore) CreateIdentity(ctx context.Context, address string) (*Identity, error) {
	identity := &Identity{
		ID:        uuid.NewString(),
		Address:   address,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}

	encoded, err := encodeIdentityRecord(identity)
	if err != nil {
		return nil, err
	}

	claimed, err := s.redis.SetNX(ctx, s.addressKey(address), identity.ID, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errRecordRedisUnavailable, err)
	}
	if !claimed {
		// Lost the race: another caller registered this address first.
		// Uniqueness wins over this write; return the existing record.
		existing, err := s.FindIdentity(ctx, address)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, fmt.Errorf("%w: address claim without identity record", errRecordCorrupt)
		}
		return existing, nil
	}

	if err := s.redis.Set(ctx, s.identityKey(identity.ID), encoded, 0).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", errRecordRedisUnavailable, err)
	}

	return identity, nil
}

// CreateChallenge describes the createchallenge operation and its observable behavior.
//
// CreateChallenge may return an error when input validation, dependency calls, or security checks fail.
// CreateChallenge does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *RedisRecordStore) CreateChallenge(ctx context.Context, identityID, code string, createdAt time.Time) (*Challenge, error) {
	seq, err := s.redis.Incr(ctx, s.sequenceKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errRecordRedisUnavailable, err)
	}

	challenge := &Challenge{
		ID:         uuid.NewString(),
		IdentityID: identityID,
		Code:       code,
		Seq:        uint64(seq),
		CreatedAt:  createdAt.UTC(),
	}

	encoded, err := encodeChallengeRecord(challenge)
	if err != nil {
		return nil, err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.challengeKey(challenge.ID), encoded, 0)
		pipe.ZAdd(ctx, s.challengeIndexKey(identityID), redis.Z{
			Score:  float64(challenge.Seq),
			Member: challenge.ID,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errRecordRedisUnavailable, err)
	}

	return challenge, nil
}

// LatestChallenge returns the challenge with the highest sequence for the
// identity, or nil when none exists. Older challenges are never returned.
//
// LatestChallenge may return an error when input validation, dependency calls, or security checks fail.
// LatestChallenge does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *RedisRecordStore) LatestChallenge(ctx context.Context, identityID string) (*Challenge, error) {
	ids, err := s.redis.ZRevRange(ctx, s.challengeIndexKey(identityID), 0, 0).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", errRecordRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	data, err := s.redis.Get(ctx, s.challengeKey(ids[0])).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Index entry without a record: treat as absent rather than
			// falling back to an older, permanently unmatchable challenge.
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", errRecordRedisUnavailable, err)
	}

	challenge, err := decodeChallengeRecord(data)
	if err != nil {
		return nil, err
	}
	challenge.ID = ids[0]

	return challenge, nil
}

// DeleteChallenge describes the deletechallenge operation and its observable behavior.
//
// DeleteChallenge may return an error when input validation, dependency calls, or security checks fail.
// DeleteChallenge does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *RedisRecordStore) DeleteChallenge(ctx context.Context, challengeID string) error {
	data, err := s.redis.Get(ctx, s.challengeKey(challengeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", errRecordRedisUnavailable, err)
	}

	challenge, err := decodeChallengeRecord(data)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.challengeKey(challengeID))
		pipe.ZRem(ctx, s.challengeIndexKey(challenge.IdentityID), challengeID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", errRecordRedisUnavailable, err)
	}

	return nil
}

func (s *RedisRecordStore) getIdentity(ctx context.Context, identityID string) (*Identity, error) {
	data, err := s.redis.Get(ctx, s.identityKey(identityID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: address claim without identity record", errRecordCorrupt)
		}
		return nil, fmt.Errorf("%w: %v", errRecordRedisUnavailable, err)
	}

	identity, err := decodeIdentityRecord(data)
	if err != nil {
		return nil, err
	}
	identity.ID = identityID

	return identity, nil
}

func encodeIdentityRecord(identity *Identity) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(identityRecordVersionV1)
	if identity.Active {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}

	if err := binary.Write(&buf, binary.BigEndian, identity.CreatedAt.Unix()); err != nil {
		return nil, err
	}

	if len(identity.Address) > 65535 {
		return nil, errors.New("identity record address too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(identity.Address))); err != nil {
		return nil, err
	}
	buf.WriteString(identity.Address)

	return buf.Bytes(), nil
}

func decodeIdentityRecord(data []byte) (*Identity, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != identityRecordVersionV1 {
		return nil, errors.New("invalid identity record version")
	}

	active, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	identity := &Identity{
		Active: active == 1,
	}

	var createdAt int64
	if err := binary.Read(reader, binary.BigEndian, &createdAt); err != nil {
		return nil, err
	}
	identity.CreatedAt = time.Unix(createdAt, 0).UTC()

	var addressLen uint16
	if err := binary.Read(reader, binary.BigEndian, &addressLen); err != nil {
		return nil, err
	}

	address := make([]byte, addressLen)
	if _, err := io.ReadFull(reader, address); err != nil {
		return nil, err
	}
	identity.Address = string(address)

	return identity, nil
}

func encodeChallengeRecord(challenge *Challenge) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(challengeRecordVersionV1)

	if err := binary.Write(&buf, binary.BigEndian, challenge.Seq); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, challenge.CreatedAt.Unix()); err != nil {
		return nil, err
	}

	if len(challenge.IdentityID) > 255 {
		return nil, errors.New("challenge record identity id too long")
	}
	buf.WriteByte(byte(len(challenge.IdentityID)))
	buf.WriteString(challenge.IdentityID)

	if len(challenge.Code) > 255 {
		return nil, errors.New("challenge record code too long")
	}
	buf.WriteByte(byte(len(challenge.Code)))
	buf.WriteString(challenge.Code)

	return buf.Bytes(), nil
}

func decodeChallengeRecord(data []byte) (*Challenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != challengeRecordVersionV1 {
		return nil, errors.New("invalid challenge record version")
	}

	challenge := &Challenge{}

	if err := binary.Read(reader, binary.BigEndian, &challenge.Seq); err != nil {
		return nil, err
	}

	var createdAt int64
	if err := binary.Read(reader, binary.BigEndian, &createdAt); err != nil {
		return nil, err
	}
	challenge.CreatedAt = time.Unix(createdAt, 0).UTC()

	identityLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	identityID := make([]byte, identityLen)
	if _, err := io.ReadFull(reader, identityID); err != nil {
		return nil, err
	}
	challenge.IdentityID = string(identityID)

	codeLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	code := make([]byte, codeLen)
	if _, err := io.ReadFull(reader, code); err != nil {
		return nil, err
	}
	challenge.Code = string(code)

	return challenge, nil
}

func mapRecordStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errRecordRedisUnavailable),
		errors.Is(err, errRecordCorrupt),
		errors.Is(err, redis.Nil):
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}
