package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"studysync/internal/config"
	"studysync/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// addScript inserts the hash and indexes it, refusing duplicate ids.
// KEYS: action hash, index zset, sequence counter. ARGV: id, field/value pairs.
var addScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
local seq = redis.call('INCR', KEYS[3])
redis.call('HSET', KEYS[1], unpack(ARGV, 2))
redis.call('ZADD', KEYS[2], seq, ARGV[1])
return 1
`)

// updateScript merges fields into an existing hash only.
// KEYS: action hash. ARGV: clear-error flag, field/value pairs.
var updateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
if ARGV[1] == '1' then
  redis.call('HDEL', KEYS[1], 'error')
end
if #ARGV > 1 then
  redis.call('HSET', KEYS[1], unpack(ARGV, 2))
end
return 1
`)

// RedisQueueStore keeps one hash per action plus a sorted index scored by insertion order.
type RedisQueueStore struct {
	client *redis.Client
	prefix string
}

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisQueueStore(client *redis.Client, prefix string) *RedisQueueStore {
	if prefix == "" {
		prefix = "studysync"
	}
	return &RedisQueueStore{client: client, prefix: prefix}
}

func (r *RedisQueueStore) actionKey(id string) string {
	return fmt.Sprintf("%s:action:%s", r.prefix, id)
}

func (r *RedisQueueStore) indexKey() string {
	return r.prefix + ":actions"
}

func (r *RedisQueueStore) seqKey() string {
	return r.prefix + ":seq"
}

func (r *RedisQueueStore) Add(ctx context.Context, action *models.QueuedAction) (string, error) {
	if r.client == nil {
		return "", models.NewStorageError("add", fmt.Errorf("redis client is nil"))
	}
	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	if action.Status == "" {
		action.Status = models.ActionPending
	}
	if action.Timestamp.IsZero() {
		action.Timestamp = time.Now().UTC()
	}

	fields, err := encodeFields(action)
	if err != nil {
		return "", err
	}
	args := append([]interface{}{action.ID}, fields...)

	ok, err := addScript.Run(ctx, r.client, []string{r.actionKey(action.ID), r.indexKey(), r.seqKey()}, args...).Int()
	if err != nil {
		return "", models.NewStorageError("add", fmt.Errorf("failed to add action to redis: %w", err))
	}
	if ok == 0 {
		return "", models.NewStorageError("add", errDuplicateID(action.ID))
	}
	return action.ID, nil
}

func (r *RedisQueueStore) Get(ctx context.Context, id string) (*models.QueuedAction, error) {
	if r.client == nil {
		return nil, models.NewStorageError("get", fmt.Errorf("redis client is nil"))
	}
	values, err := r.client.HGetAll(ctx, r.actionKey(id)).Result()
	if err != nil {
		return nil, models.NewStorageError("get", fmt.Errorf("failed to get action from redis: %w", err))
	}
	if len(values) == 0 {
		return nil, models.ErrNotFound
	}
	action, err := decodeFields(values)
	if err != nil {
		return nil, models.NewStorageError("get", err)
	}
	return action, nil
}

func (r *RedisQueueStore) List(ctx context.Context, filter models.ActionFilter) ([]models.QueuedAction, error) {
	if r.client == nil {
		return nil, models.NewStorageError("list", fmt.Errorf("redis client is nil"))
	}
	ids, err := r.client.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, models.NewStorageError("list", fmt.Errorf("failed to read index: %w", err))
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, r.actionKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, models.NewStorageError("list", fmt.Errorf("failed to read actions: %w", err))
	}

	actions := make([]models.QueuedAction, 0, len(ids))
	for _, cmd := range cmds {
		values := cmd.Val()
		if len(values) == 0 {
			// removed between ZRANGE and HGETALL
			continue
		}
		action, err := decodeFields(values)
		if err != nil {
			return nil, models.NewStorageError("list", err)
		}
		if filter.Match(action) {
			actions = append(actions, *action)
		}
	}

	// the index is in insertion order; a stable sort keeps it for equal timestamps
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Timestamp.Before(actions[j].Timestamp)
	})
	return actions, nil
}

func (r *RedisQueueStore) Update(ctx context.Context, id string, patch models.ActionPatch) error {
	if r.client == nil {
		return models.NewStorageError("update", fmt.Errorf("redis client is nil"))
	}
	clearFlag := "0"
	if patch.ClearError {
		clearFlag = "1"
	}
	args := []interface{}{clearFlag}
	if patch.Status != nil {
		args = append(args, "status", string(*patch.Status))
	}
	if patch.RetryCount != nil {
		args = append(args, "retry_count", strconv.Itoa(*patch.RetryCount))
	}
	if !patch.ClearError && patch.Error != nil {
		args = append(args, "error", *patch.Error)
	}

	ok, err := updateScript.Run(ctx, r.client, []string{r.actionKey(id)}, args...).Int()
	if err != nil {
		return models.NewStorageError("update", fmt.Errorf("failed to update action in redis: %w", err))
	}
	if ok == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *RedisQueueStore) Remove(ctx context.Context, id string) error {
	if r.client == nil {
		return models.NewStorageError("remove", fmt.Errorf("redis client is nil"))
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.actionKey(id))
		pipe.ZRem(ctx, r.indexKey(), id)
		return nil
	})
	if err != nil {
		return models.NewStorageError("remove", fmt.Errorf("failed to remove action from redis: %w", err))
	}
	return nil
}

func (r *RedisQueueStore) Clear(ctx context.Context) error {
	if r.client == nil {
		return models.NewStorageError("clear", fmt.Errorf("redis client is nil"))
	}
	ids, err := r.client.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return models.NewStorageError("clear", fmt.Errorf("failed to read index: %w", err))
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, r.actionKey(id))
	}
	keys = append(keys, r.indexKey())
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return models.NewStorageError("clear", fmt.Errorf("failed to clear actions: %w", err))
	}
	return nil
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

func encodeFields(a *models.QueuedAction) ([]interface{}, error) {
	fields := []interface{}{
		"id", a.ID,
		"method", a.Method,
		"url", a.URL,
		"created_at", strconv.FormatInt(a.Timestamp.UnixNano(), 10),
		"retry_count", strconv.Itoa(a.RetryCount),
		"status", string(a.Status),
	}
	if len(a.Headers) > 0 {
		raw, err := json.Marshal(a.Headers)
		if err != nil {
			return nil, fmt.Errorf("encode headers: %w", err)
		}
		fields = append(fields, "headers", string(raw))
	}
	if len(a.Body) > 0 {
		fields = append(fields, "body", string(a.Body))
	}
	if a.Error != nil {
		fields = append(fields, "error", *a.Error)
	}
	return fields, nil
}

func decodeFields(values map[string]string) (*models.QueuedAction, error) {
	a := &models.QueuedAction{
		ID:     values["id"],
		Method: values["method"],
		URL:    values["url"],
		Status: models.ActionStatus(values["status"]),
	}

	nanos, err := strconv.ParseInt(values["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode created_at for %s: %w", a.ID, err)
	}
	a.Timestamp = time.Unix(0, nanos).UTC()

	if a.RetryCount, err = strconv.Atoi(values["retry_count"]); err != nil {
		return nil, fmt.Errorf("decode retry_count for %s: %w", a.ID, err)
	}
	if raw, ok := values["headers"]; ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &a.Headers); err != nil {
			return nil, fmt.Errorf("decode headers for %s: %w", a.ID, err)
		}
	}
	if body, ok := values["body"]; ok && body != "" {
		a.Body = json.RawMessage(body)
	}
	if msg, ok := values["error"]; ok {
		a.Error = &msg
	}
	return a, nil
}

func errDuplicateID(id string) error {
	return fmt.Errorf("action %s already exists", id)
}
