package kv

import (
	"context"
	"encoding/base64"
	"net/netip"
	"time"

	"github.com/plugdns/plugdns/log"

	"github.com/redis/go-redis/v9"
)

const RedisStoreType = "redis"

const DefaultRedisKeyPrefix = "plugdns:"

type RedisOptions struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password,omitempty"`
	DB        int    `yaml:"db,omitempty"`
	KeyPrefix string `yaml:"key-prefix,omitempty"`
}

var _ Store = (*RedisStore)(nil)

// RedisStore keeps plugin map state in redis so it survives restarts and
// can be shared between hosts. Expiry rides on redis native TTLs, so no
// sweep loop is needed. Keys are arbitrary byte sequences and therefore
// base64-coded before prefixing.
type RedisStore struct {
	ctx    context.Context
	logger log.Logger

	address   string
	password  string
	db        int
	keyPrefix string

	client *redis.Client
}

func NewRedisStore(ctx context.Context, logger log.Logger, options RedisOptions) (*RedisStore, error) {
	if options.Address == "" {
		return nil, errMissingAddress
	}
	keyPrefix := options.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = DefaultRedisKeyPrefix
	}
	return &RedisStore{
		ctx:       ctx,
		logger:    logger,
		address:   options.Address,
		password:  options.Password,
		db:        options.DB,
		keyPrefix: keyPrefix,
	}, nil
}

func (s *RedisStore) Type() string {
	return RedisStoreType
}

func (s *RedisStore) Start() error {
	var (
		address = s.address
		network = "unix"
	)
	addr, err := netip.ParseAddrPort(s.address)
	if err == nil {
		network = "tcp"
		address = addr.String()
	}
	s.client = redis.NewClient(&redis.Options{
		Addr:     address,
		Network:  network,
		Password: s.password,
		DB:       s.db,
	})
	return s.client.Ping(s.ctx).Err()
}

func (s *RedisStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *RedisStore) redisKey(key []byte) string {
	return s.keyPrefix + base64.StdEncoding.EncodeToString(key)
}

func (s *RedisStore) Set(key []byte, value []byte, ttl time.Duration) {
	// redis treats 0 as "no expiry", matching the store contract.
	err := s.client.Set(s.ctx, s.redisKey(key), value, ttl).Err()
	if err != nil {
		s.logger.Debugf("redis set failed: %s", err)
	}
}

func (s *RedisStore) Get(key []byte) ([]byte, bool) {
	value, err := s.client.Get(s.ctx, s.redisKey(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Debugf("redis get failed: %s", err)
		}
		return nil, false
	}
	return value, true
}

func (s *RedisStore) Remove(key []byte) {
	err := s.client.Del(s.ctx, s.redisKey(key)).Err()
	if err != nil {
		s.logger.Debugf("redis del failed: %s", err)
	}
}
