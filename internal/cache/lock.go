package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript снимает замок только если он всё ещё принадлежит держателю.
// Сравнение и удаление атомарны, иначе истёкший держатель может снять чужой замок.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`)

// refreshScript продлевает TTL замка только его держателю
var refreshScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end`)

// Lock - распределённый замок в Redis. Держатель идентифицируется
// случайным токеном, чтобы Release не мог снять чужой замок.
type Lock struct {
	rdb    *redis.Client
	key    string
	holder string
	ttl    time.Duration
}

// AcquireLock пытается захватить замок lock:{name} через SETNX.
// Возвращает (nil, false, nil), если замок уже занят.
func (c *Cache) AcquireLock(ctx context.Context, name string, ttl time.Duration) (*Lock, bool, error) {
	key := "lock:" + name
	holder := uuid.NewString()
	ok, err := c.rdb.SetNX(ctx, key, holder, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Lock{rdb: c.rdb, key: key, holder: holder, ttl: ttl}, true, nil
}

// Release снимает замок. Возвращает false, если замок уже не наш
// (истёк TTL и ключ перехвачен другим держателем).
func (l *Lock) Release(ctx context.Context) (bool, error) {
	n, err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.holder).Int()
	if err != nil {
		return false, fmt.Errorf("release lock %s: %w", l.key, err)
	}
	return n == 1, nil
}

// Refresh продлевает TTL замка. Возвращает false, если замок уже потерян.
func (l *Lock) Refresh(ctx context.Context) (bool, error) {
	n, err := refreshScript.Run(ctx, l.rdb, []string{l.key}, l.holder, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("refresh lock %s: %w", l.key, err)
	}
	return n == 1, nil
}

// Key возвращает полный ключ замка в Redis
func (l *Lock) Key() string { return l.key }
