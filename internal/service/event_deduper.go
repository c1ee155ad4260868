package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventDeduper отсекает повторные доставки вебхука по идентификатору события.
// Это оптимизация: корректность обеспечивает условное обновление депозита.
type EventDeduper interface {
	FirstSeen(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

const webhookEventKeyPrefix = "escrow:webhook:event:"

// RedisEventDeduper хранит идентификаторы событий в Redis через SETNX.
type RedisEventDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisEventDeduper(client *redis.Client, ttl time.Duration) *RedisEventDeduper {
	return &RedisEventDeduper{client: client, ttl: ttl}
}

func (d *RedisEventDeduper) FirstSeen(ctx context.Context, eventID string) (bool, error) {
	return d.client.SetNX(ctx, webhookEventKeyPrefix+eventID, time.Now().Unix(), d.ttl).Result()
}

// Forget снимает отметку, чтобы повторная доставка после ошибки обработки не была отброшена.
func (d *RedisEventDeduper) Forget(ctx context.Context, eventID string) error {
	return d.client.Del(ctx, webhookEventKeyPrefix+eventID).Err()
}

// NopEventDeduper пропускает все события.
type NopEventDeduper struct{}

func (NopEventDeduper) FirstSeen(context.Context, string) (bool, error) { return true, nil }

func (NopEventDeduper) Forget(context.Context, string) error { return nil }
