package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"cryptoarb/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// metricHistoryLen - сколько последних значений метрики хранится в списке
const metricHistoryLen = 100

// Cache - фасад над Redis: рыночные данные, статусы бирж, возможности и метрики.
// Все ключи собираются здесь, чтобы схема не расползалась по сервисам.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration // TTL рыночных данных
}

// New создаёт фасад поверх подключённого клиента.
// ttl применяется к ключам market:* как защита от чтения мёртвых данных.
func New(rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

// Connect открывает подключение к Redis и проверяет его PING-ом
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// Client возвращает низкоуровневый клиент (для pub/sub и скриптов)
func (c *Cache) Client() *redis.Client { return c.rdb }

// ============================================================
// Ключи
// ============================================================

func tickerKey(exchange, pair string) string {
	return fmt.Sprintf("market:%s:%s:ticker", exchange, pair)
}

func orderBookKey(exchange, pair string) string {
	return fmt.Sprintf("market:%s:%s:book", exchange, pair)
}

func statusKey(exchange string) string {
	return fmt.Sprintf("exchange:status:%s", exchange)
}

func opportunityKey(id int64) string {
	return fmt.Sprintf("arbitrage:opportunity:%d", id)
}

func metricKey(service, name string) string {
	return fmt.Sprintf("metrics:%s:%s", service, name)
}

// ============================================================
// Тикеры
// ============================================================

// SetTicker записывает снимок лучших цен в хэш market:{venue}:{pair}:ticker
func (c *Cache) SetTicker(ctx context.Context, t *models.TickerSnapshot) error {
	key := tickerKey(t.Exchange, t.Pair)
	fields := map[string]interface{}{
		"bid":       t.Bid,
		"ask":       t.Ask,
		"timestamp": t.Timestamp.UnixMilli(),
	}
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, c.ttl)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("set ticker %s: %w", key, err)
	}
	return nil
}

// GetTicker читает снимок лучших цен. Возвращает redis.Nil, если ключа нет.
func (c *Cache) GetTicker(ctx context.Context, exchange, pair string) (*models.TickerSnapshot, error) {
	key := tickerKey(exchange, pair)
	fields, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("get ticker %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, redis.Nil
	}
	return parseTicker(exchange, pair, fields)
}

// GetAllTickers собирает снимки пары со всех перечисленных бирж.
// Биржи без данных молча пропускаются: для детектора это обычная ситуация.
func (c *Cache) GetAllTickers(ctx context.Context, exchanges []string, pair string) (map[string]*models.TickerSnapshot, error) {
	pipe := c.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(exchanges))
	for _, ex := range exchanges {
		cmds[ex] = pipe.HGetAll(ctx, tickerKey(ex, pair))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get tickers for %s: %w", pair, err)
	}

	out := make(map[string]*models.TickerSnapshot)
	for ex, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		t, err := parseTicker(ex, pair, fields)
		if err != nil {
			continue
		}
		out[ex] = t
	}
	return out, nil
}

func parseTicker(exchange, pair string, fields map[string]string) (*models.TickerSnapshot, error) {
	bid, err := strconv.ParseFloat(fields["bid"], 64)
	if err != nil {
		return nil, fmt.Errorf("parse bid: %w", err)
	}
	ask, err := strconv.ParseFloat(fields["ask"], 64)
	if err != nil {
		return nil, fmt.Errorf("parse ask: %w", err)
	}
	ms, err := strconv.ParseInt(fields["timestamp"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp: %w", err)
	}
	return &models.TickerSnapshot{
		Exchange:  exchange,
		Pair:      pair,
		Bid:       bid,
		Ask:       ask,
		Timestamp: time.UnixMilli(ms),
	}, nil
}

// ============================================================
// Стаканы
// ============================================================

// SetOrderBook записывает стакан в хэш market:{venue}:{pair}:book.
// Уровни сериализуются JSON-ом: читателю нужен весь срез целиком.
func (c *Cache) SetOrderBook(ctx context.Context, ob *models.OrderBookSnapshot) error {
	key := orderBookKey(ob.Exchange, ob.Pair)
	bids, err := json.Marshal(ob.Bids)
	if err != nil {
		return fmt.Errorf("marshal bids: %w", err)
	}
	asks, err := json.Marshal(ob.Asks)
	if err != nil {
		return fmt.Errorf("marshal asks: %w", err)
	}
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"bids":      string(bids),
		"asks":      string(asks),
		"timestamp": ob.Timestamp.UnixMilli(),
	})
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set orderbook %s: %w", key, err)
	}
	return nil
}

// GetOrderBook читает стакан. Возвращает redis.Nil, если ключа нет.
func (c *Cache) GetOrderBook(ctx context.Context, exchange, pair string) (*models.OrderBookSnapshot, error) {
	key := orderBookKey(exchange, pair)
	fields, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("get orderbook %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, redis.Nil
	}

	ob := &models.OrderBookSnapshot{Exchange: exchange, Pair: pair}
	if err := json.Unmarshal([]byte(fields["bids"]), &ob.Bids); err != nil {
		return nil, fmt.Errorf("unmarshal bids: %w", err)
	}
	if err := json.Unmarshal([]byte(fields["asks"]), &ob.Asks); err != nil {
		return nil, fmt.Errorf("unmarshal asks: %w", err)
	}
	ms, err := strconv.ParseInt(fields["timestamp"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp: %w", err)
	}
	ob.Timestamp = time.UnixMilli(ms)
	return ob, nil
}

// ============================================================
// Статусы бирж
// ============================================================

// SetVenueStatus публикует запись о живости подключения (без TTL:
// монитор хочет видеть и давно не обновлявшиеся записи)
func (c *Cache) SetVenueStatus(ctx context.Context, st *models.VenueStatus) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	if err := c.rdb.Set(ctx, statusKey(st.Exchange), data, 0).Err(); err != nil {
		return fmt.Errorf("set status %s: %w", st.Exchange, err)
	}
	return nil
}

// GetVenueStatus читает запись о живости. Для незнакомой биржи
// возвращает статус unknown, а не ошибку.
func (c *Cache) GetVenueStatus(ctx context.Context, exchange string) (*models.VenueStatus, error) {
	data, err := c.rdb.Get(ctx, statusKey(exchange)).Bytes()
	if err == redis.Nil {
		return &models.VenueStatus{Exchange: exchange, Status: models.VenueUnknown}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get status %s: %w", exchange, err)
	}
	var st models.VenueStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("unmarshal status %s: %w", exchange, err)
	}
	return &st, nil
}

// ============================================================
// Возможности
// ============================================================

// CacheOpportunity сохраняет полную цепочку ног под TTL.
// По истечении TTL исполнение возможности запрещено.
func (c *Cache) CacheOpportunity(ctx context.Context, d *models.OpportunityDetail, ttl time.Duration) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal opportunity %d: %w", d.ID, err)
	}
	if err := c.rdb.Set(ctx, opportunityKey(d.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("cache opportunity %d: %w", d.ID, err)
	}
	return nil
}

// GetOpportunity читает цепочку ног. redis.Nil означает, что TTL истёк.
func (c *Cache) GetOpportunity(ctx context.Context, id int64) (*models.OpportunityDetail, error) {
	data, err := c.rdb.Get(ctx, opportunityKey(id)).Bytes()
	if err == redis.Nil {
		return nil, redis.Nil
	}
	if err != nil {
		return nil, fmt.Errorf("get opportunity %d: %w", id, err)
	}
	var d models.OpportunityDetail
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("unmarshal opportunity %d: %w", id, err)
	}
	return &d, nil
}

// DeleteOpportunity снимает возможность с исполнения (отмена оператором)
func (c *Cache) DeleteOpportunity(ctx context.Context, id int64) error {
	return c.rdb.Del(ctx, opportunityKey(id)).Err()
}

// ============================================================
// Метрики
// ============================================================

// PushMetric добавляет значение метрики в начало списка metrics:{service}:{name}
// и обрезает историю до metricHistoryLen записей
func (c *Cache) PushMetric(ctx context.Context, service, name string, value float64) error {
	key := metricKey(service, name)
	entry, err := json.Marshal(map[string]interface{}{
		"value":     value,
		"timestamp": time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshal metric: %w", err)
	}
	pipe := c.rdb.TxPipeline()
	pipe.LPush(ctx, key, entry)
	pipe.LTrim(ctx, key, 0, metricHistoryLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push metric %s: %w", key, err)
	}
	return nil
}
