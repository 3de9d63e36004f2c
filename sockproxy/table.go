package sockproxy

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/plugdns/plugdns/adapter"
	"github.com/plugdns/plugdns/log"
	"github.com/plugdns/plugdns/utils"
	"github.com/plugdns/plugdns/utils/control"
)

const (
	DefaultCallTimeout        = 5 * time.Second
	DefaultMaxHandlesPerOwner = 64
)

type Options struct {
	// CallTimeout bounds every blocking socket call made on behalf of a
	// plugin. On expiry the call is aborted and the plugin sees a timeout
	// error code.
	CallTimeout utils.Duration `yaml:"call-timeout,omitempty"`
	// MaxHandlesPerOwner bounds how many open handles one plugin instance
	// may hold at a time.
	MaxHandlesPerOwner int `yaml:"max-handles-per-owner,omitempty"`
}

type proto uint8

const (
	protoUDP proto = iota
	protoTCPStream
	protoTCPListener
)

func (p proto) String() string {
	switch p {
	case protoUDP:
		return "udp"
	case protoTCPStream:
		return "tcp-stream"
	case protoTCPListener:
		return "tcp-listener"
	default:
		return "unknown"
	}
}

// entry is one live socket behind an opaque handle. The mutex serializes
// operations on a single handle; distinct handles never contend.
type entry struct {
	mu    sync.Mutex
	proto proto
	owner uint64

	udpConn *net.UDPConn
	udpPeer *net.UDPAddr

	tcpConn net.Conn
	writer  *bufio.Writer

	tcpListener *net.TCPListener
}

func (e *entry) closeSocket() {
	switch e.proto {
	case protoUDP:
		e.udpConn.Close()
	case protoTCPStream:
		e.tcpConn.Close()
	case protoTCPListener:
		e.tcpListener.Close()
	}
}

var _ adapter.SocketTable = (*Table)(nil)

// Table is the indirection between the opaque handles plugins see and real
// OS sockets. Handles come from a monotonically increasing counter, never
// recycled within a process lifetime, so a stale handle is detected by a
// failed lookup instead of aliasing a live socket. Every operation checks
// that the caller's owner token matches the handle's owner.
type Table struct {
	ctx    context.Context
	logger log.Logger

	callTimeout time.Duration
	maxPerOwner int

	nextFD    atomic.Uint32
	nextOwner atomic.Uint64

	mu      sync.RWMutex
	entries map[uint32]*entry
	owners  map[uint64]map[uint32]struct{}

	listenConfig net.ListenConfig
}

func NewTable(ctx context.Context, logger log.Logger, options Options) *Table {
	callTimeout := time.Duration(options.CallTimeout)
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	maxPerOwner := options.MaxHandlesPerOwner
	if maxPerOwner <= 0 {
		maxPerOwner = DefaultMaxHandlesPerOwner
	}
	return &Table{
		ctx:         ctx,
		logger:      logger,
		callTimeout: callTimeout,
		maxPerOwner: maxPerOwner,
		entries:     make(map[uint32]*entry),
		owners:      make(map[uint64]map[uint32]struct{}),
		listenConfig: net.ListenConfig{
			Control: control.ReuseAddr(),
		},
	}
}

func (t *Table) NewOwner() uint64 {
	return t.nextOwner.Add(1)
}

func (t *Table) UDPSocket(owner uint64) adapter.UDPSocket {
	return &udpView{table: t, owner: owner}
}

func (t *Table) TCPSocket(owner uint64) adapter.TCPSocket {
	return &tcpView{table: t, owner: owner}
}

// insert registers a new socket for owner and returns its handle.
func (t *Table) insert(owner uint64, e *entry) (uint32, adapter.ErrCode) {
	e.owner = owner
	t.mu.Lock()
	owned := t.owners[owner]
	if len(owned) >= t.maxPerOwner {
		t.mu.Unlock()
		e.closeSocket()
		return 0, adapter.ErrCodeTooManyHandles
	}
	fd := t.nextFD.Add(1)
	if owned == nil {
		owned = make(map[uint32]struct{})
		t.owners[owner] = owned
	}
	owned[fd] = struct{}{}
	t.entries[fd] = e
	t.mu.Unlock()
	return fd, adapter.ErrCodeOK
}

// lookup fetches a handle, verifying ownership and protocol. A missing
// handle (never allocated, or already closed) is ErrCodeBadHandle; a live
// handle of another instance is ErrCodeNotOwner; a live handle of the
// wrong kind is ErrCodeBadState.
func (t *Table) lookup(owner uint64, fd uint32, want proto) (*entry, adapter.ErrCode) {
	t.mu.RLock()
	e, ok := t.entries[fd]
	t.mu.RUnlock()
	if !ok {
		return nil, adapter.ErrCodeBadHandle
	}
	if e.owner != owner {
		return nil, adapter.ErrCodeNotOwner
	}
	if e.proto != want {
		return nil, adapter.ErrCodeBadState
	}
	return e, adapter.ErrCodeOK
}

// closeHandle releases a handle. Closing an unknown or already-closed
// handle is a no-op; closing a foreign handle is refused.
func (t *Table) closeHandle(owner uint64, fd uint32) {
	t.mu.Lock()
	e, ok := t.entries[fd]
	if !ok {
		t.mu.Unlock()
		return
	}
	if e.owner != owner {
		t.mu.Unlock()
		t.logger.Debugf("refuse close of foreign handle %d", fd)
		return
	}
	delete(t.entries, fd)
	if owned, ok := t.owners[owner]; ok {
		delete(owned, fd)
		if len(owned) == 0 {
			delete(t.owners, owner)
		}
	}
	t.mu.Unlock()
	e.closeSocket()
}

// ReleaseOwner closes every handle the owner still holds. Called when a
// plugin instance is torn down so a leaking plugin cannot exhaust the
// host.
func (t *Table) ReleaseOwner(owner uint64) {
	t.mu.Lock()
	owned := t.owners[owner]
	delete(t.owners, owner)
	released := make([]*entry, 0, len(owned))
	for fd := range owned {
		if e, ok := t.entries[fd]; ok {
			released = append(released, e)
			delete(t.entries, fd)
		}
	}
	t.mu.Unlock()
	for _, e := range released {
		e.closeSocket()
	}
	if len(released) > 0 {
		t.logger.Debugf("released %d handles of owner %d", len(released), owner)
	}
}

// Close releases every handle in the table, regardless of owner. Used at
// host shutdown.
func (t *Table) Close() error {
	t.mu.Lock()
	released := make([]*entry, 0, len(t.entries))
	for _, e := range t.entries {
		released = append(released, e)
	}
	t.entries = make(map[uint32]*entry)
	t.owners = make(map[uint64]map[uint32]struct{})
	t.mu.Unlock()
	for _, e := range released {
		e.closeSocket()
	}
	return nil
}

// LocalAddr reports the bound address of a handle. Host-side only: the
// plugin boundary never exposes it.
func (t *Table) LocalAddr(owner uint64, fd uint32) (net.Addr, bool) {
	t.mu.RLock()
	e, ok := t.entries[fd]
	t.mu.RUnlock()
	if !ok || e.owner != owner {
		return nil, false
	}
	switch e.proto {
	case protoUDP:
		return e.udpConn.LocalAddr(), true
	case protoTCPStream:
		return e.tcpConn.LocalAddr(), true
	case protoTCPListener:
		return e.tcpListener.Addr(), true
	}
	return nil, false
}

func (t *Table) OpenHandles() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

func (t *Table) Stats() map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	stats := make(map[string]int)
	for _, e := range t.entries {
		stats[e.proto.String()]++
	}
	return stats
}

func (t *Table) deadline() time.Time {
	return time.Now().Add(t.callTimeout)
}

// errCodeFromOS folds an OS-level failure into the fixed numeric
// enumeration crossing the plugin boundary. Raw errno values never leak.
func errCodeFromOS(err error) adapter.ErrCode {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return adapter.ErrCodeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return adapter.ErrCodeTimeout
	}
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return adapter.ErrCodeRefused
	case errors.Is(err, syscall.ENETUNREACH), errors.Is(err, syscall.EHOSTUNREACH):
		return adapter.ErrCodeUnreachable
	case errors.Is(err, syscall.EADDRINUSE):
		return adapter.ErrCodeAddrInUse
	case errors.Is(err, syscall.EADDRNOTAVAIL):
		return adapter.ErrCodeAddrNotAvail
	case errors.Is(err, syscall.EAFNOSUPPORT), errors.Is(err, syscall.EPROTONOSUPPORT):
		return adapter.ErrCodeNotSupported
	}
	return adapter.ErrCodeIO
}
