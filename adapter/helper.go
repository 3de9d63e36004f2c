package adapter

import (
	"context"
	"time"
)

// Helper is the capability surface handed to a plugin for the duration of
// one Run call. It is the only way a plugin reaches the outside world:
// its config blob, the rest of the chain, the shared key-value store and
// the proxied sockets.
type Helper interface {
	// LoadConfig returns the instance's raw config blob verbatim.
	LoadConfig() string
	// CallNextPlugin hands the packet to the next plugin in the chain.
	// ok is false when the caller is the last plugin: there is nothing to
	// forward to, which is the chain's natural termination signal and is
	// distinct from an error.
	CallNextPlugin(ctx context.Context, packet []byte) (resp []byte, ok bool, err error)
	MapSet(key []byte, value []byte, ttl time.Duration)
	MapGet(key []byte) ([]byte, bool)
	MapRemove(key []byte)
	// UDP and TCP return socket views bound to the calling instance:
	// handles created through them are owned by that instance only.
	UDP() UDPSocket
	TCP() TCPSocket
}

// KVStore is shared scratch state across all plugin instances. The
// namespace is flat: any plugin may read or overwrite any key. A ttl of
// zero means the entry never expires until removed.
type KVStore interface {
	Set(key []byte, value []byte, ttl time.Duration)
	Get(key []byte) ([]byte, bool)
	Remove(key []byte)
}
