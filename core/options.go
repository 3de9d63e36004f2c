package core

import (
	"github.com/plugdns/plugdns/api"
	"github.com/plugdns/plugdns/chain"
	"github.com/plugdns/plugdns/kv"
	"github.com/plugdns/plugdns/listener"
	"github.com/plugdns/plugdns/plugin"
	"github.com/plugdns/plugdns/sockproxy"
)

type Options struct {
	Log       LogOptions         `yaml:"log,omitempty"`
	API       *api.Options       `yaml:"api,omitempty"`
	KV        kv.Options         `yaml:"kv,omitempty"`
	Socket    sockproxy.Options  `yaml:"socket,omitempty"`
	Plugins   []plugin.Options   `yaml:"plugins,omitempty"`
	Chains    []chain.Options    `yaml:"chains,omitempty"`
	Listeners []listener.Options `yaml:"listeners,omitempty"`
}

type LogOptions struct {
	Level            string `yaml:"level,omitempty"`
	Output           string `yaml:"output,omitempty"`
	DisableTimestamp bool   `yaml:"disable-timestamp,omitempty"`
	DisableColor     bool   `yaml:"disable-color,omitempty"`
}
