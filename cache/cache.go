// Package cache содержит кэш с TTL и блокировки для фоновых задач.
package cache

import (
	"context"
	"time"
)

// Cache хранит сериализованные значения с ограниченным временем жизни
type Cache interface {
	// Get возвращает значение и признак попадания
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// DeletePrefix удаляет все ключи с указанным префиксом
	DeletePrefix(ctx context.Context, prefix string) error
}

// Locker выдает эксклюзивные блокировки по ключу
type Locker interface {
	// Acquire пытается захватить блокировку; ok=false, если ее уже держит кто-то другой
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}
