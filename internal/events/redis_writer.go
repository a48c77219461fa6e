package events

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisClient abstracts the Redis operations used by RedisWriter.
// In production this is satisfied by GoRedis; in tests by a mock.
type RedisClient interface {
	HSet(ctx context.Context, key string, values ...any) error
}

// RedisWriter consumes a Broadcaster's unified stream and projects the latest
// state into Redis hashes for indexers:
//
//	price:{feed}:{asset}  price, precision, ts, seq
//	round:{id}            status, asset, times, counts, prices, outcome, seq
//
// Writes are buffered and flushed by a dedicated goroutine. Writes whose
// fields are unchanged from the previous write to the same key are skipped.
type RedisWriter struct {
	client RedisClient
	feed   <-chan Event
	buf    chan Event
	log    *zap.Logger

	mu   sync.Mutex
	last map[string]string // key -> fingerprint
}

// NewRedisWriter creates a RedisWriter reading feed (usually
// Broadcaster.SubscribeAll) and writing to client.
func NewRedisWriter(client RedisClient, feed <-chan Event, log *zap.Logger) *RedisWriter {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisWriter{
		client: client,
		feed:   feed,
		buf:    make(chan Event, 1024),
		log:    log.Named("redis"),
		last:   make(map[string]string),
	}
}

// Run drains the feed into an internal buffer and flushes it to Redis. It
// blocks until ctx is cancelled or the feed is closed.
func (rw *RedisWriter) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer close(rw.buf)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-rw.feed:
				if !ok {
					return
				}
				select {
				case rw.buf <- ev:
				default:
					rw.log.Warn("buffer full, dropping event", zap.String("type", ev.Type), zap.Uint64("seq", ev.Seq))
				}
			}
		}
	}()

	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-rw.buf:
				if !ok {
					return
				}
				rw.write(ctx, ev)
			}
		}
	}()

	wg.Wait()
}

func (rw *RedisWriter) write(ctx context.Context, ev Event) {
	key, fields, ok := project(ev)
	if !ok {
		return
	}

	fp := fingerprint(fields)
	rw.mu.Lock()
	if prev, exists := rw.last[key]; exists && prev == fp {
		rw.mu.Unlock()
		return
	}
	rw.last[key] = fp
	rw.mu.Unlock()

	values := make([]any, 0, 2*len(fields)+2)
	for k, v := range fields {
		values = append(values, k, v)
	}
	values = append(values, "seq", strconv.FormatUint(ev.Seq, 10))

	if err := rw.client.HSet(ctx, key, values...); err != nil {
		rw.log.Warn("hset failed", zap.String("key", key), zap.Error(err))
		rw.mu.Lock()
		delete(rw.last, key)
		rw.mu.Unlock()
	}
}

var roundStatus = map[string]string{
	TypeRoundCreate: "created",
	TypeRoundLock:   "locked",
	TypeRoundSettle: "settled",
	TypeRoundCancel: "canceled",
}

// project maps an event to the Redis key and fields it updates.
func project(ev Event) (string, map[string]string, bool) {
	switch ev.Type {
	case TypeFeedPrice:
		return fmt.Sprintf("price:%s:%s", ev.Attr(AttrFeed), ev.Attr(AttrAsset)), map[string]string{
			"price":     ev.Attr(AttrPrice),
			"precision": ev.Attr(AttrPrecision),
			"ts":        ev.Attr(AttrTimestamp),
		}, true

	case TypeRoundCreate, TypeRoundJoin, TypeRoundLock, TypeRoundSettle, TypeRoundCancel:
		id := ev.Attr(AttrRoundID)
		if id == "" {
			return "", nil, false
		}
		fields := make(map[string]string, len(ev.Attributes)+1)
		for k, v := range ev.Attributes {
			switch k {
			case AttrRoundID, AttrParticipant, AttrSide, AttrPrevStatus:
				continue
			}
			fields[k] = v
		}
		if st, ok := roundStatus[ev.Type]; ok {
			fields["status"] = st
		}
		return "round:" + id, fields, true
	}
	return "", nil, false
}

// GoRedis adapts *redis.Client to RedisClient.
type GoRedis struct {
	client *redis.Client
}

// RedisOptions configures NewGoRedis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewGoRedis connects to Redis and verifies the connection with PING.
func NewGoRedis(ctx context.Context, opts RedisOptions) (*GoRedis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return &GoRedis{client: client}, nil
}

// HSet implements RedisClient.
func (g *GoRedis) HSet(ctx context.Context, key string, values ...any) error {
	return g.client.HSet(ctx, key, values...).Err()
}

// Close releases the connection pool.
func (g *GoRedis) Close() error {
	return g.client.Close()
}
