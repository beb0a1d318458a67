// Package action carries out the punishment commands produced by the
// moderation pipeline. Built-in sanctions (ban, mute) are recorded in Redis
// as simple key-value pairs with TTL-based expiry:
//
//	Key:   sanction:<kind>:<author>
//	Value: <reason>
//	TTL:   sanction duration (none for permanent sanctions)
//
// Every other command is forwarded to an external dispatcher.
package action

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SanctionPrefix is the Redis key prefix for sanction records.
const SanctionPrefix = "sanction:"

// Kind is a sanction type.
type Kind string

const (
	KindBan  Kind = "ban"
	KindMute Kind = "mute"
)

// Sanction is an active sanction on an author.
type Sanction struct {
	Kind      Kind
	Author    string
	Reason    string
	Remaining time.Duration // zero when permanent or unknown
	Permanent bool
}

// Store manages sanction records in Redis.
type Store struct {
	client *redis.Client
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

func sanctionKey(kind Kind, author string) string {
	return SanctionPrefix + string(kind) + ":" + author
}

// Apply records a sanction. A zero duration makes it permanent.
func (s *Store) Apply(ctx context.Context, kind Kind, author string, d time.Duration, reason string) error {
	if err := s.client.Set(ctx, sanctionKey(kind, author), reason, d).Err(); err != nil {
		return fmt.Errorf("action: apply %s %s: %w", kind, author, err)
	}
	return nil
}

// Lift removes a sanction immediately and reports whether one was active.
func (s *Store) Lift(ctx context.Context, kind Kind, author string) (bool, error) {
	n, err := s.client.Del(ctx, sanctionKey(kind, author)).Result()
	if err != nil {
		return false, fmt.Errorf("action: lift %s %s: %w", kind, author, err)
	}
	return n > 0, nil
}

// Active returns the sanction of the given kind on author, if any. Redis
// errors are returned so callers can decide how to handle them; the
// moderator fails open.
func (s *Store) Active(ctx context.Context, kind Kind, author string) (Sanction, bool, error) {
	key := sanctionKey(kind, author)

	reason, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return Sanction{}, false, nil
	}
	if err != nil {
		return Sanction{}, false, err
	}

	sn := Sanction{Kind: kind, Author: author, Reason: reason}

	// Key exists; report the sanction even if the TTL can't be read.
	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return sn, true, nil
	}
	switch {
	case ttl > 0:
		sn.Remaining = ttl
	case ttl == -1:
		sn.Permanent = true
	}
	return sn, true, nil
}

// Blocking returns the first active sanction that stops author from
// chatting. Bans take precedence over mutes.
func (s *Store) Blocking(ctx context.Context, author string) (Sanction, bool, error) {
	for _, kind := range []Kind{KindBan, KindMute} {
		sn, ok, err := s.Active(ctx, kind, author)
		if err != nil || ok {
			return sn, ok, err
		}
	}
	return Sanction{}, false, nil
}
