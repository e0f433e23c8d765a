// Package redis stores bulletin defines as JSON documents in Redis.
//
// Keys, relative to the configured prefix:
//
//	define:seq      INCR counter handing out ids
//	define:{id}     JSON document
//	define:names    hash name -> id, enforces unique names
//	define:ids      sorted set of ids, used for paging
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"go-monitor-bulletin/internal/bulletin"
)

// Options configures the connection.
type Options struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Store manages bulletin defines in Redis.
type Store struct {
	client    redis.UniversalClient
	keyPrefix string
}

func NewStore(opts Options) (*Store, error) {
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     opts.Password,
		DB:           opts.DB,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewWithClient(client, opts.KeyPrefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = "bulletin:"
	}
	return &Store{client: client, keyPrefix: keyPrefix}
}

func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// ServiceStats pings Redis and reports the define count and server uptime.
func (s *Store) ServiceStats(ctx context.Context) (*bulletin.StoreStats, error) {
	start := time.Now()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	out := &bulletin.StoreStats{PingMS: time.Since(start).Milliseconds()}

	total, err := s.client.ZCard(ctx, s.key("ids")).Result()
	if err != nil {
		return nil, err
	}
	out.DefinesTotal = total

	// INFO is optional on some managed services
	if info, err := s.client.Info(ctx, "server").Result(); err == nil {
		out.UptimeSeconds = infoInt(info, "uptime_in_seconds")
	}
	return out, nil
}

// infoInt reads one integer field from an INFO reply.
func infoInt(info, field string) int64 {
	for _, line := range strings.Split(info, "\n") {
		k, v, ok := strings.Cut(strings.TrimSpace(line), ":")
		if ok && k == field {
			n, _ := strconv.ParseInt(v, 10, 64)
			return n
		}
	}
	return 0
}

func (s *Store) key(parts ...string) string {
	return s.keyPrefix + "define:" + strings.Join(parts, ":")
}

func (s *Store) docKey(id int64) string {
	return s.key(strconv.FormatInt(id, 10))
}

func (s *Store) ListDefines(ctx context.Context, page, size int) (bulletin.Page[bulletin.Define], error) {
	out := bulletin.Page[bulletin.Define]{Content: []bulletin.Define{}}
	total, err := s.client.ZCard(ctx, s.key("ids")).Result()
	if err != nil {
		return out, err
	}
	out.TotalElements = total

	start := int64(page * size)
	if start >= total {
		return out, nil
	}
	members, err := s.client.ZRange(ctx, s.key("ids"), start, start+int64(size)-1).Result()
	if err != nil {
		return out, err
	}
	if len(members) == 0 {
		return out, nil
	}

	keys := make([]string, 0, len(members))
	for _, m := range members {
		keys = append(keys, s.key(m))
	}
	docs, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return out, err
	}
	for i, doc := range docs {
		raw, ok := doc.(string)
		if !ok {
			// index entry without a document; skip it
			continue
		}
		var def bulletin.Define
		if err := json.Unmarshal([]byte(raw), &def); err != nil {
			return out, fmt.Errorf("decode %s: %w", keys[i], err)
		}
		out.Content = append(out.Content, def)
	}
	return out, nil
}

func (s *Store) GetDefine(ctx context.Context, id int64) (*bulletin.Define, error) {
	raw, err := s.client.Get(ctx, s.docKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, bulletin.ErrDefineNotFound
	}
	if err != nil {
		return nil, err
	}
	var def bulletin.Define
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("decode define %d: %w", id, err)
	}
	return &def, nil
}

func (s *Store) CreateDefine(ctx context.Context, def bulletin.Define) (int64, error) {
	id, err := s.client.Incr(ctx, s.key("seq")).Result()
	if err != nil {
		return 0, err
	}
	claimed, err := s.client.HSetNX(ctx, s.key("names"), def.Name, id).Result()
	if err != nil {
		return 0, err
	}
	if !claimed {
		return 0, fmt.Errorf("%w: %s", bulletin.ErrDefineExists, def.Name)
	}

	now := time.Now().UTC()
	def.ID = id
	def.CreatedAt = &now
	def.UpdatedAt = &now
	blob, err := json.Marshal(normalizeLists(def))
	if err != nil {
		return 0, err
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.docKey(id), blob, 0)
		p.ZAdd(ctx, s.key("ids"), redis.Z{Score: float64(id), Member: strconv.FormatInt(id, 10)})
		return nil
	})
	if err != nil {
		_ = s.client.HDel(ctx, s.key("names"), def.Name).Err()
		return 0, err
	}
	return id, nil
}

func (s *Store) UpdateDefine(ctx context.Context, def bulletin.Define) error {
	current, err := s.GetDefine(ctx, def.ID)
	if errors.Is(err, bulletin.ErrDefineNotFound) {
		return fmt.Errorf("%w: id %d", bulletin.ErrDefineNotFound, def.ID)
	}
	if err != nil {
		return err
	}

	if def.Name != current.Name {
		claimed, err := s.client.HSetNX(ctx, s.key("names"), def.Name, def.ID).Result()
		if err != nil {
			return err
		}
		if !claimed {
			return fmt.Errorf("%w: %s", bulletin.ErrDefineExists, def.Name)
		}
	}

	now := time.Now().UTC()
	def.Creator = current.Creator
	def.CreatedAt = current.CreatedAt
	def.UpdatedAt = &now
	blob, err := json.Marshal(normalizeLists(def))
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.docKey(def.ID), blob, 0)
		if def.Name != current.Name {
			p.HDel(ctx, s.key("names"), current.Name)
		}
		return nil
	})
	return err
}

func (s *Store) DeleteDefines(ctx context.Context, names []string) (int64, error) {
	clean := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			clean = append(clean, n)
		}
	}
	if len(clean) == 0 {
		return 0, nil
	}

	ids, err := s.client.HMGet(ctx, s.key("names"), clean...).Result()
	if err != nil {
		return 0, err
	}

	var deleted int64
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for i, raw := range ids {
			id, ok := raw.(string)
			if !ok {
				continue
			}
			deleted++
			p.Del(ctx, s.key(id))
			p.ZRem(ctx, s.key("ids"), id)
			p.HDel(ctx, s.key("names"), clean[i])
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func normalizeLists(def bulletin.Define) bulletin.Define {
	if def.MonitorIDs == nil {
		def.MonitorIDs = []int64{}
	}
	if def.Metrics == nil {
		def.Metrics = []string{}
	}
	return def
}
