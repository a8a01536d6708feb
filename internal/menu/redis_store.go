package menu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fjod/go_cart/ordering-service/internal/domain"
)

var ErrNoSnapshot = errors.New("no persisted menu snapshot")

const snapshotKey = "menu:snapshot"

type RedisStore struct {
	client  *redis.Client
	baseTTL time.Duration
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client:  client,
		baseTTL: 24 * time.Hour,
	}
}

type storedSnapshot struct {
	Revision   int64             `json:"revision"`
	FetchedAt  time.Time         `json:"fetched_at"`
	Categories []domain.Category `json:"categories"`
	Products   []domain.Product  `json:"products"`
}

func (r *RedisStore) Load(ctx context.Context) (*domain.MenuSnapshot, error) {
	data, err := r.client.Get(ctx, snapshotKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var stored storedSnapshot
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot failed: %w", err)
	}
	return domain.NewMenuSnapshot(stored.Categories, stored.Products, stored.Revision, stored.FetchedAt), nil
}

func (r *RedisStore) Save(ctx context.Context, snap *domain.MenuSnapshot) error {
	data, err := json.Marshal(storedSnapshot{
		Revision:   snap.Revision,
		FetchedAt:  snap.FetchedAt,
		Categories: snap.Categories(),
		Products:   snap.Products(),
	})
	if err != nil {
		return fmt.Errorf("marshal snapshot failed: %w", err)
	}

	jitter := time.Duration(rand.Intn(30)) * time.Minute
	if err := r.client.Set(ctx, snapshotKey, data, r.baseTTL+jitter).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}
