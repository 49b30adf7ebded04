package player

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/mkrelic/questline/pkg/quest"
	"github.com/mkrelic/questline/pkg/state"
)

// slotsPerTab is the slot count of each inventory tab in the reference
// client.
const slotsPerTab = 24

// warpQueueKey is the queue of warp requests the world server drains.
const warpQueueKey = "world:warp"

// RedisPlayers implements Inventory, Attributes and World on Redis. The
// inventory is a hash of item id -> count, attributes a hash of named
// fields; warps are queued for the world server to drain.
type RedisPlayers struct {
	client *redis.Client
	logger *slog.Logger
}

var (
	_ Inventory  = (*RedisPlayers)(nil)
	_ Attributes = (*RedisPlayers)(nil)
	_ World      = (*RedisPlayers)(nil)
)

// NewRedisPlayers creates a player service sharing an existing Redis client.
func NewRedisPlayers(client *redis.Client, logger *slog.Logger) *RedisPlayers {
	return &RedisPlayers{client: client, logger: logger}
}

// Services returns the collaborator bundle backed by this service.
func (p *RedisPlayers) Services() Services {
	return Services{Inventory: p, Attributes: p, World: p}
}

func invKey(player state.PlayerID) string {
	return "inv:" + string(player)
}

func attrKey(player state.PlayerID) string {
	return "plr:" + string(player)
}

// Inventory

func (p *RedisPlayers) ItemCount(ctx context.Context, player state.PlayerID, item quest.ItemID) (int, error) {
	val, err := p.client.HGet(ctx, invKey(player), strconv.Itoa(int(item))).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read item count: %w", err)
	}
	count, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("corrupt item count for item %d: %w", item, err)
	}
	return count, nil
}

func (p *RedisPlayers) Items(ctx context.Context, player state.PlayerID) (map[quest.ItemID]int, error) {
	fields, err := p.client.HGetAll(ctx, invKey(player)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory: %w", err)
	}

	items := make(map[quest.ItemID]int, len(fields))
	for field, val := range fields {
		id, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("corrupt inventory field %q: %w", field, err)
		}
		count, err := strconv.Atoi(val)
		if err != nil {
			return nil, fmt.Errorf("corrupt item count for item %s: %w", field, err)
		}
		if count > 0 {
			items[quest.ItemID(id)] = count
		}
	}
	return items, nil
}

func (p *RedisPlayers) AddItem(ctx context.Context, player state.PlayerID, item quest.ItemID, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("add item qty must be positive, got %d", qty)
	}
	if err := p.client.HIncrBy(ctx, invKey(player), strconv.Itoa(int(item)), int64(qty)).Err(); err != nil {
		return fmt.Errorf("failed to add item %d: %w", item, err)
	}
	return nil
}

func (p *RedisPlayers) RemoveItem(ctx context.Context, player state.PlayerID, item quest.ItemID, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("remove item qty must be positive, got %d", qty)
	}
	field := strconv.Itoa(int(item))
	left, err := p.client.HIncrBy(ctx, invKey(player), field, int64(-qty)).Result()
	if err != nil {
		return fmt.Errorf("failed to remove item %d: %w", item, err)
	}
	if left < 0 {
		// Undo the over-remove. Callers pre-validate, so this only happens
		// under concurrent interference.
		if err := p.client.HIncrBy(ctx, invKey(player), field, int64(qty)).Err(); err != nil {
			return fmt.Errorf("failed to restore item %d after over-remove: %w", item, err)
		}
		return fmt.Errorf("player %s holds too few of item %d", player, item)
	}
	if left == 0 {
		if err := p.client.HDel(ctx, invKey(player), field).Err(); err != nil {
			return fmt.Errorf("failed to clear empty slot for item %d: %w", item, err)
		}
	}
	return nil
}

func (p *RedisPlayers) FreeCapacity(ctx context.Context, player state.PlayerID, tab string) (int, error) {
	items, err := p.Items(ctx, player)
	if err != nil {
		return 0, err
	}
	used := 0
	for id := range items {
		if state.ItemTab(id) == tab {
			used++
		}
	}
	free := slotsPerTab - used
	if free < 0 {
		free = 0
	}
	return free, nil
}

// Attributes

func (p *RedisPlayers) Get(ctx context.Context, player state.PlayerID) (state.PlayerAttributes, error) {
	fields, err := p.client.HGetAll(ctx, attrKey(player)).Result()
	if err != nil {
		return state.PlayerAttributes{}, fmt.Errorf("failed to read player attributes: %w", err)
	}

	intField := func(name string) int {
		n, _ := strconv.Atoi(fields[name])
		return n
	}
	return state.PlayerAttributes{
		Level:  intField("level"),
		Job:    intField("job"),
		Gender: intField("gender"),
		Mesos:  intField("mesos"),
		Exp:    intField("exp"),
		Fame:   intField("fame"),
	}, nil
}

func (p *RedisPlayers) AdjustExp(ctx context.Context, player state.PlayerID, delta int) error {
	return p.adjust(ctx, player, "exp", delta)
}

func (p *RedisPlayers) AdjustMesos(ctx context.Context, player state.PlayerID, delta int) error {
	return p.adjust(ctx, player, "mesos", delta)
}

func (p *RedisPlayers) AdjustFame(ctx context.Context, player state.PlayerID, delta int) error {
	return p.adjust(ctx, player, "fame", delta)
}

func (p *RedisPlayers) adjust(ctx context.Context, player state.PlayerID, field string, delta int) error {
	val, err := p.client.HIncrBy(ctx, attrKey(player), field, int64(delta)).Result()
	if err != nil {
		return fmt.Errorf("failed to adjust %s: %w", field, err)
	}
	if val < 0 && field != "fame" {
		// Fame can legitimately go negative; balances cannot.
		if err := p.client.HIncrBy(ctx, attrKey(player), field, int64(-delta)).Err(); err != nil {
			return fmt.Errorf("failed to restore %s after underflow: %w", field, err)
		}
		return fmt.Errorf("player %s has insufficient %s", player, field)
	}
	return nil
}

// World

type warpRequest struct {
	Player state.PlayerID `json:"player"`
	Map    quest.MapID    `json:"map"`
}

func (p *RedisPlayers) Warp(ctx context.Context, player state.PlayerID, mapID quest.MapID) error {
	payload, err := json.Marshal(warpRequest{Player: player, Map: mapID})
	if err != nil {
		return fmt.Errorf("failed to marshal warp request: %w", err)
	}
	if err := p.client.RPush(ctx, warpQueueKey, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue warp: %w", err)
	}
	p.logger.Debug("Warp queued", "player", player, "map", mapID)
	return nil
}
