package adapter

import (
	"fmt"
	"net/netip"
)

// ErrCode is the numeric error surface of the socket proxy. Codes are
// host-defined small integers, never raw OS errno values, so the boundary
// stays platform-independent. Zero means success.
type ErrCode uint32

const (
	ErrCodeOK ErrCode = iota
	ErrCodeBadHandle
	ErrCodeNotOwner
	ErrCodeBadState
	ErrCodeTimeout
	ErrCodeRefused
	ErrCodeUnreachable
	ErrCodeAddrInUse
	ErrCodeAddrNotAvail
	ErrCodeNotSupported
	ErrCodeTooManyHandles
	ErrCodeIO
)

func (e ErrCode) String() string {
	switch e {
	case ErrCodeOK:
		return "ok"
	case ErrCodeBadHandle:
		return "invalid handle"
	case ErrCodeNotOwner:
		return "handle owned by another instance"
	case ErrCodeBadState:
		return "invalid handle state"
	case ErrCodeTimeout:
		return "timeout"
	case ErrCodeRefused:
		return "connection refused"
	case ErrCodeUnreachable:
		return "unreachable"
	case ErrCodeAddrInUse:
		return "address in use"
	case ErrCodeAddrNotAvail:
		return "address not available"
	case ErrCodeNotSupported:
		return "not supported"
	case ErrCodeTooManyHandles:
		return "too many handles"
	case ErrCodeIO:
		return "io error"
	default:
		return "unknown"
	}
}

// SockAddr is the wire form of an IPv4 socket address: the address packed
// into a u32 (big-endian byte order) plus a port.
type SockAddr struct {
	Addr uint32
	Port uint16
}

func SockAddrFromAddrPort(ap netip.AddrPort) (SockAddr, bool) {
	addr := ap.Addr()
	if addr.Is4In6() {
		addr = addr.Unmap()
	}
	if !addr.Is4() {
		return SockAddr{}, false
	}
	b := addr.As4()
	return SockAddr{
		Addr: uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]),
		Port: ap.Port(),
	}, true
}

func (a SockAddr) AddrPort() netip.AddrPort {
	b := [4]byte{byte(a.Addr >> 24), byte(a.Addr >> 16), byte(a.Addr >> 8), byte(a.Addr)}
	return netip.AddrPortFrom(netip.AddrFrom4(b), a.Port)
}

func (a SockAddr) String() string {
	return a.AddrPort().String()
}

// UDPSocket is the datagram capability bound to one plugin instance.
// Every failing operation reports an ErrCode instead of an error value.
type UDPSocket interface {
	Bind(addr SockAddr) (uint32, ErrCode)
	Connect(fd uint32, addr SockAddr) ErrCode
	Send(fd uint32, buf []byte) (uint64, ErrCode)
	Recv(fd uint32, size uint64) ([]byte, ErrCode)
	SendTo(fd uint32, buf []byte, addr SockAddr) (uint64, ErrCode)
	RecvFrom(fd uint32, size uint64) ([]byte, SockAddr, ErrCode)
	Close(fd uint32)
}

// TCPSocket mirrors UDPSocket with stream semantics: Write buffers, Flush
// drains, Read returns up to size bytes with no message boundaries.
type TCPSocket interface {
	Bind(addr SockAddr) (uint32, ErrCode)
	Accept(fd uint32) (uint32, SockAddr, ErrCode)
	Connect(addr SockAddr) (uint32, ErrCode)
	Write(fd uint32, buf []byte) (uint64, ErrCode)
	Flush(fd uint32) ErrCode
	Read(fd uint32, size uint64) ([]byte, ErrCode)
	Close(fd uint32)
}

// SocketTable is the shared handle table behind the per-instance socket
// views. Owner tokens identify plugin instances; releasing an owner closes
// everything it still holds.
type SocketTable interface {
	NewOwner() uint64
	UDPSocket(owner uint64) UDPSocket
	TCPSocket(owner uint64) TCPSocket
	ReleaseOwner(owner uint64)
	OpenHandles() int
}

var _ fmt.Stringer = SockAddr{}
