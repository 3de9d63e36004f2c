package adapter

import "time"

type Core interface {
	Closer
	Run() error
	GetListener(tag string) Listener
	GetListeners() []Listener
	GetChain(tag string) Chain
	GetChains() []Chain
	GetPlugin(tag string) Plugin
	GetPlugins() []Plugin
	GetPluginRawConfig(tag string) string
	RebuildPlugin(tag string) (Plugin, error)
	KVStore() KVStore
	SocketTable() SocketTable
	GetTimeFunc() func() time.Time
}

type Starter interface {
	Start() error
}

type Closer interface {
	Close() error
}
