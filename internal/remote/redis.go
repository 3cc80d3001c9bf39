package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"fieldchart/sync/internal/record"
)

const (
	recordKeyPrefix     = "record:"
	recordChannelPrefix = "record:changed:"
)

// RedisStore keeps each record as a JSON document at a key and publishes
// the full post-merge snapshot on a per-record channel after every
// upsert, which is what the change listener subscribes to.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) key(id string) string {
	return recordKeyPrefix + id
}

func (s *RedisStore) channel(id string) string {
	return recordChannelPrefix + id
}

func (s *RedisStore) Get(ctx context.Context, id string) (record.Record, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	var rec record.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

// upsertRetries bounds the optimistic-lock retry loop; contention on a
// single record is rare enough that losing after this many rounds means
// something is wrong with the deployment, not the data.
const upsertRetries = 5

// Upsert merges rec over the stored document and publishes the full
// post-merge snapshot. The read-merge-write runs under WATCH so two
// devices writing disjoint top-level sections concurrently cannot erase
// each other's keys; a conflicting write restarts the merge.
func (s *RedisStore) Upsert(ctx context.Context, id string, rec record.Record) error {
	key := s.key(id)

	merge := func(tx *redis.Tx) error {
		merged := record.Clone(rec)
		raw, err := tx.Get(ctx, key).Result()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("get record: %w", err)
		}
		if err == nil {
			var existing record.Record
			if err := json.Unmarshal([]byte(raw), &existing); err != nil {
				return fmt.Errorf("decode record: %w", err)
			}
			base := record.Clone(existing)
			for k, v := range rec {
				base[k] = v
			}
			merged = base
		}

		data, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.Publish(ctx, s.channel(id), data)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < upsertRetries; attempt++ {
		err := s.client.Watch(ctx, merge, key)
		if err == nil {
			return nil
		}
		if err == redis.TxFailedErr {
			continue
		}
		return fmt.Errorf("upsert record: %w", err)
	}
	return fmt.Errorf("upsert record %s: retries exhausted under write contention", id)
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

// Subscribe delivers full snapshots of one record as other devices write
// it. Undecodable messages are skipped; the channel closes when the
// returned cancel func runs or ctx ends.
func (s *RedisStore) Subscribe(ctx context.Context, id string) (<-chan record.Record, func(), error) {
	sub := s.client.Subscribe(ctx, s.channel(id))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, nil, fmt.Errorf("subscribe record: %w", err)
	}

	out := make(chan record.Record)
	done := make(chan struct{})
	go func() {
		defer close(out)
		msgs := sub.Channel()
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var rec record.Record
				if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
					continue
				}
				select {
				case out <- rec:
				case <-done:
					return
				case <-ctx.Done():
					return
				}
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			sub.Close()
		})
	}
	return out, cancel, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
