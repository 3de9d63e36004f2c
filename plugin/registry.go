package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/plugdns/plugdns/adapter"
	"github.com/plugdns/plugdns/log"
)

type Options struct {
	Tag  string `yaml:"tag"`
	Type string `yaml:"type"`
	Args any    `yaml:"args,omitempty"`
}

var pluginMap sync.Map

type Factory func(ctx context.Context, core adapter.Core, logger log.Logger, tag string, args any) (adapter.Plugin, error)

func Register(_type string, factory Factory) {
	pluginMap.Store(_type, factory)
}

func New(ctx context.Context, core adapter.Core, logger log.Logger, tag string, _type string, args any) (adapter.Plugin, error) {
	v, ok := pluginMap.Load(_type)
	if !ok {
		return nil, fmt.Errorf("unknown plugin type: %s", _type)
	}
	f := v.(Factory)
	return f(ctx, core, logger, tag, args)
}

func Types() []string {
	var types []string
	pluginMap.Range(func(key any, value any) bool {
		types = append(types, key.(string))
		return true
	})
	return types
}
