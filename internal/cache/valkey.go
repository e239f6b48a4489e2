package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"slotbook/internal/models"
)

type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// ValkeyClient caches session occupancy read models. Entries are short-lived and dropped after
// every committed mutation of the session.
type ValkeyClient struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewValkeyClient(cfg Config) (*ValkeyClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		DialTimeout:  5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Valkey: %w", err)
	}

	return NewFromClient(rdb, cfg), nil
}

// NewFromClient wraps an existing go-redis client.
func NewFromClient(rdb *redis.Client, cfg Config) *ValkeyClient {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Second
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "slotbook:occupancy:"
	}
	return &ValkeyClient{client: rdb, prefix: cfg.KeyPrefix, ttl: cfg.TTL}
}

func (v *ValkeyClient) key(sessionID int64) string {
	return v.prefix + strconv.FormatInt(sessionID, 10)
}

// versionKey counts invalidations of a session. It has no TTL: a missing key would read as version
// zero again and let a stale write through.
func (v *ValkeyClient) versionKey(sessionID int64) string {
	return v.key(sessionID) + ":version"
}

// setIfVersion writes ARGV[2] to KEYS[1] only while KEYS[2] still holds ARGV[1].
var setIfVersion = redis.NewScript(`
local current = redis.call('GET', KEYS[2]) or '0'
if current ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// GetOccupancy returns the cached value, or nil and the current version on a miss.
func (v *ValkeyClient) GetOccupancy(ctx context.Context, sessionID int64) (*models.Occupancy, int64, error) {
	vals, err := v.client.MGet(ctx, v.key(sessionID), v.versionKey(sessionID)).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("cache lookup error: %w", err)
	}

	version, err := parseVersion(vals[1])
	if err != nil {
		return nil, 0, err
	}

	raw, ok := vals[0].(string)
	if !ok {
		return nil, version, nil
	}
	var occ models.Occupancy
	if err := json.Unmarshal([]byte(raw), &occ); err != nil {
		return nil, 0, fmt.Errorf("invalid occupancy in cache: %w", err)
	}
	return &occ, version, nil
}

// SetOccupancy caches occ unless the session was invalidated since version was read.
func (v *ValkeyClient) SetOccupancy(ctx context.Context, occ *models.Occupancy, version int64) error {
	raw, err := json.Marshal(occ)
	if err != nil {
		return err
	}
	keys := []string{v.key(occ.SessionID), v.versionKey(occ.SessionID)}
	return setIfVersion.Run(ctx, v.client, keys, strconv.FormatInt(version, 10), raw, v.ttl.Milliseconds()).Err()
}

// InvalidateOccupancy drops the cached values and bumps the version of every session in one
// MULTI/EXEC block.
func (v *ValkeyClient) InvalidateOccupancy(ctx context.Context, sessionIDs ...int64) error {
	if len(sessionIDs) == 0 {
		return nil
	}
	_, err := v.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range sessionIDs {
			pipe.Incr(ctx, v.versionKey(id))
			pipe.Del(ctx, v.key(id))
		}
		return nil
	})
	return err
}

func parseVersion(val interface{}) (int64, error) {
	s, ok := val.(string)
	if !ok {
		return 0, nil
	}
	version, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid occupancy version in cache: %w", err)
	}
	return version, nil
}

func (v *ValkeyClient) Ping(ctx context.Context) error {
	return v.client.Ping(ctx).Err()
}

func (v *ValkeyClient) Close() error {
	return v.client.Close()
}
