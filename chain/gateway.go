package chain

import (
	"context"
	"time"

	"github.com/plugdns/plugdns/adapter"
)

var _ adapter.Helper = (*gateway)(nil)

// gateway is the capability surface handed to one plugin for one Run call.
// It pins the plugin's chain position so CallNextPlugin re-enters the
// dispatcher at the right index, and routes everything else to the shared
// store and socket table.
type gateway struct {
	chain    *Chain
	chainCtx *adapter.ChainContext
	index    int
	instance *instance
}

func (g *gateway) LoadConfig() string {
	return g.chain.core.GetPluginRawConfig(g.instance.tag)
}

func (g *gateway) CallNextPlugin(ctx context.Context, packet []byte) ([]byte, bool, error) {
	return g.chain.runFrom(ctx, g.chainCtx, g.index+1, packet)
}

func (g *gateway) MapSet(key []byte, value []byte, ttl time.Duration) {
	g.chain.core.KVStore().Set(key, value, ttl)
}

func (g *gateway) MapGet(key []byte) ([]byte, bool) {
	return g.chain.core.KVStore().Get(key)
}

func (g *gateway) MapRemove(key []byte) {
	g.chain.core.KVStore().Remove(key)
}

func (g *gateway) UDP() adapter.UDPSocket {
	return g.chain.core.SocketTable().UDPSocket(g.instance.owner)
}

func (g *gateway) TCP() adapter.TCPSocket {
	return g.chain.core.SocketTable().TCPSocket(g.instance.owner)
}
