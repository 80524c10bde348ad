package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"oddsflow/logger"
	"oddsflow/models"
)

// tableStore is the subset of *redis.Client used by the sink.
type tableStore interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// RedisSink stores the whole table as one JSON document under
// <prefix>:<name> with a TTL.
type RedisSink struct {
	client tableStore
	prefix string
	ttl    time.Duration
	log    *logger.Log
}

func NewRedisSink(client tableStore, prefix string, ttl time.Duration, log *logger.Log) *RedisSink {
	if log == nil {
		log = logger.GetLogger()
	}
	return &RedisSink{client: client, prefix: prefix, ttl: ttl, log: log}
}

// connectRedis opens a client and checks the server answers.
func connectRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return rdb, nil
}

func (r *RedisSink) key(name string) string {
	return r.prefix + ":" + name
}

func (r *RedisSink) Write(ctx context.Context, table []models.AnnotatedRow, name string) error {
	key := r.key(name)
	log := r.log.WithComponent("redis_sink").WithFields(logger.Fields{"table": name, "rows": len(table), "key": key})
	if len(table) == 0 {
		log.Info("empty table, nothing stored")
		return nil
	}

	b, err := json.Marshal(table)
	if err != nil {
		return &models.SinkError{Sink: "redis", Table: name, Err: fmt.Errorf("marshal table: %w", err)}
	}
	if err := r.client.Set(ctx, key, b, r.ttl).Err(); err != nil {
		return &models.SinkError{Sink: "redis", Table: name, Err: err}
	}

	log.WithFields(logger.Fields{"bytes": len(b), "ttl": r.ttl.String()}).Info("table stored in redis")
	logger.LogDataFlowEntry(log, "pipeline", "redis:"+key, len(table), "annotated_row")
	return nil
}

func (r *RedisSink) Close() error {
	return r.client.Close()
}
