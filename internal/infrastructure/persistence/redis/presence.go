package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// PRESENCE
// ══════════════════════════════════════════════════════════════════════════════

// ErrConnectionIDEmpty is returned when a presence call has no connection id.
var ErrConnectionIDEmpty = errors.New("presence: connection id cannot be empty")

// Participant is one connection in a lesson room.
type Participant struct {
	ConnectionID string    `json:"connection_id"`
	UserID       string    `json:"user_id"`
	DisplayName  string    `json:"display_name,omitempty"`
	JoinedAt     time.Time `json:"joined_at"`
	LastSeenAt   time.Time `json:"last_seen_at"`
}

// IsStale reports whether the participant missed its heartbeats.
func (p Participant) IsStale(now time.Time, ttl time.Duration) bool {
	return now.Sub(p.LastSeenAt) > ttl
}

// Presence tracks room participants.
//
// Architecture:
//   - Each room has a hash "presence:lesson:{lesson_id}" of connectionID -> Participant JSON
//   - The hash TTL is refreshed on every join and heartbeat
//   - Entries older than the TTL are ignored on read and pruned lazily
type Presence struct {
	cache *Cache
	ttl   time.Duration
	now   func() time.Time
}

// NewPresence creates a tracker. A non-positive ttl uses TTLPresence.
func NewPresence(cache *Cache, ttl time.Duration) *Presence {
	if ttl <= 0 {
		ttl = TTLPresence
	}
	return &Presence{cache: cache, ttl: ttl, now: func() time.Time { return time.Now().UTC() }}
}

// Join adds the connection to the room.
func (p *Presence) Join(ctx context.Context, lessonID string, part Participant) error {
	if part.ConnectionID == "" {
		return ErrConnectionIDEmpty
	}
	now := p.now()
	if part.JoinedAt.IsZero() {
		part.JoinedAt = now
	}
	part.LastSeenAt = now
	return p.write(ctx, lessonID, part)
}

// Heartbeat refreshes the connection's last-seen time, re-adding it if the
// room hash expired in between.
func (p *Presence) Heartbeat(ctx context.Context, lessonID string, part Participant) error {
	if part.ConnectionID == "" {
		return ErrConnectionIDEmpty
	}
	part.LastSeenAt = p.now()
	if part.JoinedAt.IsZero() {
		part.JoinedAt = part.LastSeenAt
	}
	return p.write(ctx, lessonID, part)
}

func (p *Presence) write(ctx context.Context, lessonID string, part Participant) error {
	data, err := json.Marshal(part)
	if err != nil {
		return fmt.Errorf("failed to marshal participant: %w", err)
	}

	key := PresenceKey(lessonID)
	pipe := p.cache.Client().Pipeline()
	pipe.HSet(ctx, key, part.ConnectionID, data)
	pipe.Expire(ctx, key, p.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update presence: %w", err)
	}
	return nil
}

// Leave removes the connection from the room.
func (p *Presence) Leave(ctx context.Context, lessonID, connectionID string) error {
	if connectionID == "" {
		return ErrConnectionIDEmpty
	}
	return p.cache.Client().HDel(ctx, PresenceKey(lessonID), connectionID).Err()
}

// Participants lists live participants, one per user, ordered by join time.
func (p *Presence) Participants(ctx context.Context, lessonID string) ([]Participant, error) {
	key := PresenceKey(lessonID)
	all, err := p.cache.Client().HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read presence: %w", err)
	}

	now := p.now()
	byUser := make(map[string]Participant, len(all))
	var stale []string
	for connID, raw := range all {
		var part Participant
		if err := json.Unmarshal([]byte(raw), &part); err != nil || part.IsStale(now, p.ttl) {
			stale = append(stale, connID)
			continue
		}
		if prev, ok := byUser[part.UserID]; !ok || part.JoinedAt.Before(prev.JoinedAt) {
			byUser[part.UserID] = part
		}
	}
	if len(stale) > 0 {
		_ = p.cache.Client().HDel(ctx, key, stale...).Err()
	}

	out := make([]Participant, 0, len(byUser))
	for _, part := range byUser {
		out = append(out, part)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out, nil
}
