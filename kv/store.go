package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/plugdns/plugdns/adapter"
	"github.com/plugdns/plugdns/log"
	"github.com/plugdns/plugdns/utils"
)

type Options struct {
	Type string

	MemoryOptions *MemoryOptions
	RedisOptions  *RedisOptions
}

type _Options struct {
	Type string `yaml:"type,omitempty"`
}

func (o *Options) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var _o _Options
	err := unmarshal(&_o)
	if err != nil {
		return err
	}
	if _o.Type == "" {
		_o.Type = MemoryStoreType
	}
	var data any
	switch _o.Type {
	case MemoryStoreType:
		o.MemoryOptions = &MemoryOptions{}
		data = o.MemoryOptions
	case RedisStoreType:
		o.RedisOptions = &RedisOptions{}
		data = o.RedisOptions
	default:
		return fmt.Errorf("unknown kv store type: %s", _o.Type)
	}
	err = unmarshal(data)
	if err != nil {
		return err
	}
	o.Type = _o.Type
	return nil
}

// Store is the host-side contract of the key-value capability: adapter.KVStore
// plus the lifecycle hooks the core drives.
type Store interface {
	adapter.KVStore
	Type() string
}

func NewStore(ctx context.Context, logger log.Logger, options Options, timeFunc func() time.Time) (Store, error) {
	switch options.Type {
	case MemoryStoreType, "":
		var mo MemoryOptions
		if options.MemoryOptions != nil {
			mo = *options.MemoryOptions
		}
		return NewMemoryStore(ctx, logger, mo, timeFunc), nil
	case RedisStoreType:
		if options.RedisOptions == nil {
			return nil, fmt.Errorf("missing redis options")
		}
		return NewRedisStore(ctx, logger, *options.RedisOptions)
	default:
		return nil, fmt.Errorf("unknown kv store type: %s", options.Type)
	}
}

const DefaultSweepInterval = utils.Duration(time.Second)

var errMissingAddress = fmt.Errorf("missing address")
