package sockproxy

import (
	"net"

	"github.com/plugdns/plugdns/adapter"
)

var _ adapter.UDPSocket = (*udpView)(nil)

// udpView is the datagram capability bound to one owner token. It carries
// no state of its own; every call goes through the shared table with the
// owner attached.
type udpView struct {
	table *Table
	owner uint64
}

func (v *udpView) Bind(addr adapter.SockAddr) (uint32, adapter.ErrCode) {
	return v.table.udpBind(v.owner, addr)
}

func (v *udpView) Connect(fd uint32, addr adapter.SockAddr) adapter.ErrCode {
	return v.table.udpConnect(v.owner, fd, addr)
}

func (v *udpView) Send(fd uint32, buf []byte) (uint64, adapter.ErrCode) {
	return v.table.udpSend(v.owner, fd, buf)
}

func (v *udpView) Recv(fd uint32, size uint64) ([]byte, adapter.ErrCode) {
	buf, _, code := v.table.udpRecv(v.owner, fd, size, false)
	return buf, code
}

func (v *udpView) SendTo(fd uint32, buf []byte, addr adapter.SockAddr) (uint64, adapter.ErrCode) {
	return v.table.udpSendTo(v.owner, fd, buf, addr)
}

func (v *udpView) RecvFrom(fd uint32, size uint64) ([]byte, adapter.SockAddr, adapter.ErrCode) {
	return v.table.udpRecv(v.owner, fd, size, true)
}

func (v *udpView) Close(fd uint32) {
	v.table.closeHandle(v.owner, fd)
}

func (t *Table) udpBind(owner uint64, addr adapter.SockAddr) (uint32, adapter.ErrCode) {
	pc, err := t.listenConfig.ListenPacket(t.ctx, "udp4", addr.String())
	if err != nil {
		t.logger.Debugf("udp bind %s failed: %s", addr, err)
		return 0, errCodeFromOS(err)
	}
	udpConn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return 0, adapter.ErrCodeIO
	}
	return t.insert(owner, &entry{
		proto:   protoUDP,
		udpConn: udpConn,
	})
}

// udpConnect associates a default peer. The socket stays bound to its
// local address; Send targets the peer and Recv drops datagrams from
// anyone else, which is the observable behavior of a connected datagram
// socket.
func (t *Table) udpConnect(owner uint64, fd uint32, addr adapter.SockAddr) adapter.ErrCode {
	e, code := t.lookup(owner, fd, protoUDP)
	if code != adapter.ErrCodeOK {
		return code
	}
	ap := addr.AddrPort()
	e.mu.Lock()
	e.udpPeer = &net.UDPAddr{IP: ap.Addr().AsSlice(), Port: int(ap.Port())}
	e.mu.Unlock()
	return adapter.ErrCodeOK
}

func (t *Table) udpSend(owner uint64, fd uint32, buf []byte) (uint64, adapter.ErrCode) {
	e, code := t.lookup(owner, fd, protoUDP)
	if code != adapter.ErrCodeOK {
		return 0, code
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.udpPeer == nil {
		return 0, adapter.ErrCodeBadState
	}
	e.udpConn.SetWriteDeadline(t.deadline())
	n, err := e.udpConn.WriteToUDP(buf, e.udpPeer)
	if err != nil {
		t.logger.Debugf("udp send on %d failed: %s", fd, err)
		return 0, errCodeFromOS(err)
	}
	return uint64(n), adapter.ErrCodeOK
}

func (t *Table) udpSendTo(owner uint64, fd uint32, buf []byte, addr adapter.SockAddr) (uint64, adapter.ErrCode) {
	e, code := t.lookup(owner, fd, protoUDP)
	if code != adapter.ErrCodeOK {
		return 0, code
	}
	ap := addr.AddrPort()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.udpConn.SetWriteDeadline(t.deadline())
	n, err := e.udpConn.WriteToUDP(buf, &net.UDPAddr{IP: ap.Addr().AsSlice(), Port: int(ap.Port())})
	if err != nil {
		t.logger.Debugf("udp send-to on %d failed: %s", fd, err)
		return 0, errCodeFromOS(err)
	}
	return uint64(n), adapter.ErrCodeOK
}

// udpRecv reads one datagram of up to size bytes; anything beyond size is
// truncated by the datagram contract. With fromAny false and a connected
// peer set, datagrams from other sources are skipped.
func (t *Table) udpRecv(owner uint64, fd uint32, size uint64, fromAny bool) ([]byte, adapter.SockAddr, adapter.ErrCode) {
	e, code := t.lookup(owner, fd, protoUDP)
	if code != adapter.ErrCodeOK {
		return nil, adapter.SockAddr{}, code
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	buf := make([]byte, size)
	e.udpConn.SetReadDeadline(t.deadline())
	for {
		n, source, err := e.udpConn.ReadFromUDP(buf)
		if err != nil {
			t.logger.Debugf("udp recv on %d failed: %s", fd, err)
			return nil, adapter.SockAddr{}, errCodeFromOS(err)
		}
		if !fromAny && e.udpPeer != nil {
			if !source.IP.Equal(e.udpPeer.IP) || source.Port != e.udpPeer.Port {
				continue
			}
		}
		sourceAddr, ok := adapter.SockAddrFromAddrPort(source.AddrPort())
		if !ok && fromAny {
			return nil, adapter.SockAddr{}, adapter.ErrCodeNotSupported
		}
		return buf[:n], sourceAddr, adapter.ErrCodeOK
	}
}
