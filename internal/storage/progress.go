package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/mkrelic/questline/pkg/quest"
	"github.com/mkrelic/questline/pkg/state"
)

// QuestProgress operations (Redis-backed)

func progressKey(player state.PlayerID, questID quest.QuestID) string {
	return fmt.Sprintf("progress:%s:%d", player, questID)
}

// casScript checks the stored record's stage against ARGV[1] and replaces
// the record with ARGV[2] only on a match. A missing key counts as the
// unstarted stage (empty string). Returns 1 on success, 0 on conflict.
var casScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
local stage = ''
if cur then
  local rec = cjson.decode(cur)
  if rec['stage'] then
    stage = rec['stage']
  end
end
if stage == ARGV[1] then
  redis.call('SET', KEYS[1], ARGV[2])
  return 1
end
return 0
`)

func (r *RedisStore) GetProgress(ctx context.Context, player state.PlayerID, questID quest.QuestID) (state.QuestProgress, error) {
	key := progressKey(player, questID)
	data, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return state.Unstarted(), nil
		}
		r.logger.Error("Failed to load quest progress", "player", player, "quest", questID, "error", err)
		return state.QuestProgress{}, fmt.Errorf("failed to load quest progress: %w", err)
	}

	var p state.QuestProgress
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		r.logger.Error("Failed to unmarshal quest progress", "player", player, "quest", questID, "error", err)
		return state.QuestProgress{}, fmt.Errorf("failed to unmarshal quest progress: %w", err)
	}

	return p, nil
}

func (r *RedisStore) CompareAndSet(ctx context.Context, player state.PlayerID, questID quest.QuestID, expected quest.StageToken, next state.QuestProgress) (bool, error) {
	data, err := json.Marshal(next)
	if err != nil {
		return false, fmt.Errorf("failed to marshal quest progress: %w", err)
	}

	key := progressKey(player, questID)
	res, err := casScript.Run(ctx, r.client, []string{key}, string(expected), string(data)).Int()
	if err != nil {
		r.logger.Error("Quest progress CAS failed", "player", player, "quest", questID, "error", err)
		return false, fmt.Errorf("quest progress CAS failed: %w", err)
	}

	if res != 1 {
		r.logger.Debug("Quest progress CAS conflict", "player", player, "quest", questID, "expected_stage", expected)
		return false, nil
	}
	return true, nil
}
