package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mkrelic/questline/pkg/quest"
	"github.com/mkrelic/questline/pkg/state"
)

// integrityKey is the queue of integrity incidents awaiting offline audit.
const integrityKey = "integrity-events"

// IntegrityEvent records a transition whose effects were applied and then
// rolled back. These should never leave a player missing an item or a
// reward; the queue exists so operators can verify that.
type IntegrityEvent struct {
	PlayerID   state.PlayerID `json:"player_id"`
	QuestID    quest.QuestID  `json:"quest_id"`
	Detail     string         `json:"detail"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// IntegrityQueue manages the queue of integrity events on Redis.
type IntegrityQueue struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewIntegrityQueue creates a queue sharing an existing Redis client.
func NewIntegrityQueue(rdb *redis.Client, logger *slog.Logger) *IntegrityQueue {
	return &IntegrityQueue{rdb: rdb, logger: logger}
}

// PartialFailure enqueues an incident. Publishing must never fail the
// player-facing path, so errors are logged and swallowed here.
func (q *IntegrityQueue) PartialFailure(ctx context.Context, playerID state.PlayerID, questID quest.QuestID, detail string) {
	ev := IntegrityEvent{
		PlayerID:   playerID,
		QuestID:    questID,
		Detail:     detail,
		OccurredAt: time.Now(),
	}
	data, err := json.Marshal(ev)
	if err != nil {
		q.logger.Error("Failed to marshal integrity event", "error", err)
		return
	}
	if err := q.rdb.RPush(ctx, integrityKey, data).Err(); err != nil {
		q.logger.Error("Failed to enqueue integrity event", "player", playerID, "quest", questID, "error", err)
		return
	}
	q.logger.Warn("Integrity event recorded", "player", playerID, "quest", questID, "detail", detail)
}

// Depth returns the number of queued integrity events.
func (q *IntegrityQueue) Depth(ctx context.Context) (int, error) {
	count, err := q.rdb.LLen(ctx, integrityKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get integrity queue depth: %w", err)
	}
	return int(count), nil
}

// Drain removes and returns all queued integrity events.
func (q *IntegrityQueue) Drain(ctx context.Context) ([]IntegrityEvent, error) {
	raw, err := q.rdb.LRange(ctx, integrityKey, 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read integrity events: %w", err)
	}
	if len(raw) > 0 {
		if err := q.rdb.Del(ctx, integrityKey).Err(); err != nil {
			return nil, fmt.Errorf("failed to clear integrity queue after drain: %w", err)
		}
	}

	events := make([]IntegrityEvent, 0, len(raw))
	for _, item := range raw {
		var ev IntegrityEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal integrity event: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}
