package sockproxy

import (
	"bufio"
	"net"

	"github.com/plugdns/plugdns/adapter"
)

var _ adapter.TCPSocket = (*tcpView)(nil)

type tcpView struct {
	table *Table
	owner uint64
}

func (v *tcpView) Bind(addr adapter.SockAddr) (uint32, adapter.ErrCode) {
	return v.table.tcpBind(v.owner, addr)
}

func (v *tcpView) Accept(fd uint32) (uint32, adapter.SockAddr, adapter.ErrCode) {
	return v.table.tcpAccept(v.owner, fd)
}

func (v *tcpView) Connect(addr adapter.SockAddr) (uint32, adapter.ErrCode) {
	return v.table.tcpConnect(v.owner, addr)
}

func (v *tcpView) Write(fd uint32, buf []byte) (uint64, adapter.ErrCode) {
	return v.table.tcpWrite(v.owner, fd, buf)
}

func (v *tcpView) Flush(fd uint32) adapter.ErrCode {
	return v.table.tcpFlush(v.owner, fd)
}

func (v *tcpView) Read(fd uint32, size uint64) ([]byte, adapter.ErrCode) {
	return v.table.tcpRead(v.owner, fd, size)
}

func (v *tcpView) Close(fd uint32) {
	v.table.closeHandle(v.owner, fd)
}

func (t *Table) tcpBind(owner uint64, addr adapter.SockAddr) (uint32, adapter.ErrCode) {
	ln, err := t.listenConfig.Listen(t.ctx, "tcp4", addr.String())
	if err != nil {
		t.logger.Debugf("tcp bind %s failed: %s", addr, err)
		return 0, errCodeFromOS(err)
	}
	tcpListener, ok := ln.(*net.TCPListener)
	if !ok {
		ln.Close()
		return 0, adapter.ErrCodeIO
	}
	return t.insert(owner, &entry{
		proto:       protoTCPListener,
		tcpListener: tcpListener,
	})
}

func (t *Table) tcpAccept(owner uint64, fd uint32) (uint32, adapter.SockAddr, adapter.ErrCode) {
	e, code := t.lookup(owner, fd, protoTCPListener)
	if code != adapter.ErrCodeOK {
		return 0, adapter.SockAddr{}, code
	}
	e.mu.Lock()
	e.tcpListener.SetDeadline(t.deadline())
	conn, err := e.tcpListener.AcceptTCP()
	e.mu.Unlock()
	if err != nil {
		t.logger.Debugf("tcp accept on %d failed: %s", fd, err)
		return 0, adapter.SockAddr{}, errCodeFromOS(err)
	}
	peer, ok := adapter.SockAddrFromAddrPort(conn.RemoteAddr().(*net.TCPAddr).AddrPort())
	if !ok {
		conn.Close()
		return 0, adapter.SockAddr{}, adapter.ErrCodeNotSupported
	}
	newFD, code := t.insert(owner, &entry{
		proto:   protoTCPStream,
		tcpConn: conn,
		writer:  bufio.NewWriter(conn),
	})
	if code != adapter.ErrCodeOK {
		return 0, adapter.SockAddr{}, code
	}
	return newFD, peer, adapter.ErrCodeOK
}

func (t *Table) tcpConnect(owner uint64, addr adapter.SockAddr) (uint32, adapter.ErrCode) {
	dialer := net.Dialer{Timeout: t.callTimeout}
	conn, err := dialer.DialContext(t.ctx, "tcp4", addr.String())
	if err != nil {
		t.logger.Debugf("tcp connect %s failed: %s", addr, err)
		return 0, errCodeFromOS(err)
	}
	return t.insert(owner, &entry{
		proto:   protoTCPStream,
		tcpConn: conn,
		writer:  bufio.NewWriter(conn),
	})
}

// tcpWrite buffers the bytes; the stream contract lets the plugin batch
// writes and drain them with Flush. A full buffer spills to the socket
// under the call deadline.
func (t *Table) tcpWrite(owner uint64, fd uint32, buf []byte) (uint64, adapter.ErrCode) {
	e, code := t.lookup(owner, fd, protoTCPStream)
	if code != adapter.ErrCodeOK {
		return 0, code
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tcpConn.SetWriteDeadline(t.deadline())
	n, err := e.writer.Write(buf)
	if err != nil {
		t.logger.Debugf("tcp write on %d failed: %s", fd, err)
		return uint64(n), errCodeFromOS(err)
	}
	return uint64(n), adapter.ErrCodeOK
}

func (t *Table) tcpFlush(owner uint64, fd uint32) adapter.ErrCode {
	e, code := t.lookup(owner, fd, protoTCPStream)
	if code != adapter.ErrCodeOK {
		return code
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tcpConn.SetWriteDeadline(t.deadline())
	err := e.writer.Flush()
	if err != nil {
		t.logger.Debugf("tcp flush on %d failed: %s", fd, err)
		return errCodeFromOS(err)
	}
	return adapter.ErrCodeOK
}

func (t *Table) tcpRead(owner uint64, fd uint32, size uint64) ([]byte, adapter.ErrCode) {
	e, code := t.lookup(owner, fd, protoTCPStream)
	if code != adapter.ErrCodeOK {
		return nil, code
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	buf := make([]byte, size)
	e.tcpConn.SetReadDeadline(t.deadline())
	n, err := e.tcpConn.Read(buf)
	if err != nil {
		t.logger.Debugf("tcp read on %d failed: %s", fd, err)
		return nil, errCodeFromOS(err)
	}
	return buf[:n], adapter.ErrCodeOK
}
