package resolvedplan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BaSui01/planflow/config"
)

// RedisStore is a Redis-based implementation of Store.
// Nodes are stored as JSON strings; parent and execution indexes are sorted
// sets scored by position.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ownClient bool
}

// NewRedisStore wraps an existing client. The caller keeps ownership of it.
func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "planflow:"
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix + "resolved:",
	}
}

// NewRedisStoreFromConfig dials Redis and verifies the connection.
func NewRedisStoreFromConfig(cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	s := NewRedisStore(client, cfg.KeyPrefix)
	s.ownClient = true
	return s, nil
}

// Close closes the client when the store created it.
func (s *RedisStore) Close() error {
	if !s.ownClient {
		return nil
	}
	return s.client.Close()
}

// Ping checks if the store is healthy
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) nodeKey(id string) string {
	return s.keyPrefix + "node:" + id
}

func (s *RedisStore) parentKey(parentID string) string {
	return s.keyPrefix + "parent:" + parentID
}

func (s *RedisStore) executionKey(executionID string) string {
	return s.keyPrefix + "execution:" + executionID
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, node *Node) error {
	if err := node.validate(); err != nil {
		return err
	}

	// Get old node for index cleanup
	old, err := s.Get(ctx, node.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	data, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("failed to marshal node: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.nodeKey(node.ID), data, 0)

	if old != nil && old.ParentID != node.ParentID && old.ParentID != "" {
		pipe.ZRem(ctx, s.parentKey(old.ParentID), node.ID)
	}
	if old != nil && old.ExecutionID != node.ExecutionID && old.ExecutionID != "" {
		pipe.ZRem(ctx, s.executionKey(old.ExecutionID), node.ID)
	}

	score := float64(node.Position)
	if node.ParentID != "" {
		pipe.ZAdd(ctx, s.parentKey(node.ParentID), redis.Z{Score: score, Member: node.ID})
	}
	if node.ExecutionID != "" {
		pipe.ZAdd(ctx, s.executionKey(node.ExecutionID), redis.Z{Score: score, Member: node.ID})
	}

	_, err = pipe.Exec(ctx)
	return err
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, id string) (*Node, error) {
	data, err := s.client.Get(ctx, s.nodeKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var node Node
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("failed to unmarshal node %s: %w", id, err)
	}
	return &node, nil
}

// FindByParentID implements Store.
func (s *RedisStore) FindByParentID(ctx context.Context, parentID string) ([]*Node, error) {
	return s.findByIndex(ctx, s.parentKey(parentID))
}

// FindByExecutionID implements Store.
func (s *RedisStore) FindByExecutionID(ctx context.Context, executionID string) ([]*Node, error) {
	return s.findByIndex(ctx, s.executionKey(executionID))
}

func (s *RedisStore) findByIndex(ctx context.Context, key string) ([]*Node, error) {
	ids, err := s.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*Node{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.nodeKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	nodes := make([]*Node, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// index entry without data; skip the dangling member
			continue
		}
		var node Node
		if err := json.Unmarshal([]byte(raw), &node); err != nil {
			return nil, fmt.Errorf("failed to unmarshal node %s: %w", ids[i], err)
		}
		nodes = append(nodes, &node)
	}
	sortByPosition(nodes)
	return nodes, nil
}
