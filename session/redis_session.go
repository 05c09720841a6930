package session

import (
	"context"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/redis/go-redis/v9"
)

// Ceremony kinds keep registration and login challenges in separate key spaces.
const (
	ceremonyReg       = "reg"
	ceremonyRegInvite = "reg:inv"
	ceremonyAuth      = "auth"
)

// Store holds in-flight WebAuthn ceremony data between begin and finish.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store { return &Store{rdb: rdb, ttl: ttl} }

func ceremonyKey(kind, id string) string { return "rt:webauthn:" + kind + ":" + id }

func (s *Store) save(ctx context.Context, kind, id string, sd *webauthn.SessionData) error {
	return setJSON(ctx, s.rdb, ceremonyKey(kind, id), sd, s.ttl)
}

func (s *Store) load(ctx context.Context, kind, id string) (*webauthn.SessionData, error) {
	var sd webauthn.SessionData
	if err := getJSON(ctx, s.rdb, ceremonyKey(kind, id), &sd); err != nil {
		return nil, err
	}
	return &sd, nil
}

// take loads and deletes in one step so a challenge can only be answered once.
func (s *Store) take(ctx context.Context, kind, id string) (*webauthn.SessionData, error) {
	sd, err := s.load(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	_ = s.rdb.Del(ctx, ceremonyKey(kind, id)).Err()
	return sd, nil
}

func (s *Store) SaveReg(ctx context.Context, username string, sd *webauthn.SessionData) error {
	return s.save(ctx, ceremonyReg, username, sd)
}

func (s *Store) TakeReg(ctx context.Context, username string) (*webauthn.SessionData, error) {
	return s.take(ctx, ceremonyReg, username)
}

func (s *Store) SaveRegByToken(ctx context.Context, token string, sd *webauthn.SessionData) error {
	return s.save(ctx, ceremonyRegInvite, token, sd)
}

func (s *Store) TakeRegByToken(ctx context.Context, token string) (*webauthn.SessionData, error) {
	return s.take(ctx, ceremonyRegInvite, token)
}

func (s *Store) SaveAuth(ctx context.Context, sid string, sd *webauthn.SessionData) error {
	return s.save(ctx, ceremonyAuth, sid, sd)
}

func (s *Store) TakeAuth(ctx context.Context, sid string) (*webauthn.SessionData, error) {
	return s.take(ctx, ceremonyAuth, sid)
}
