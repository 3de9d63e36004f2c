package listener

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/netip"
	"time"

	"github.com/plugdns/plugdns/adapter"
	"github.com/plugdns/plugdns/log"
	"github.com/plugdns/plugdns/utils"
)

type TCPListenerOptions struct {
	Listen        string         `yaml:"listen"`
	IdleTimeout   utils.Duration `yaml:"idle-timeout,omitempty"`
	MaxConnection int            `yaml:"max-connection,omitempty"`
}

const TCPListenerType = "tcp"

var (
	_ adapter.Listener = (*TCPListener)(nil)
	_ adapter.Starter  = (*TCPListener)(nil)
	_ adapter.Closer   = (*TCPListener)(nil)
)

type TCPListener struct {
	ctx    context.Context
	cancel context.CancelFunc
	tag    string
	core   adapter.Core
	logger log.Logger

	listen      string
	chainTag    string
	chain       adapter.Chain
	dealTimeout time.Duration

	idleTimeout   time.Duration
	maxConnection int

	limiter     *utils.Limiter
	tcpListener net.Listener
}

func NewTCPListener(ctx context.Context, core adapter.Core, logger log.Logger, tag string, options TCPListenerOptions, chainTag string, dealTimeout time.Duration) (adapter.Listener, error) {
	ctx, cancel := context.WithCancel(ctx)
	l := &TCPListener{
		ctx:         ctx,
		cancel:      cancel,
		tag:         tag,
		core:        core,
		logger:      logger,
		dealTimeout: dealTimeout,
	}
	var err error
	l.listen, err = parseListen(options.Listen, 53)
	if err != nil {
		return nil, fmt.Errorf("create tcp listener failed: %s", err)
	}
	if options.MaxConnection > 0 {
		l.maxConnection = options.MaxConnection
	} else {
		l.maxConnection = DefaultMaxConnection
	}
	if options.IdleTimeout > 0 {
		l.idleTimeout = time.Duration(options.IdleTimeout)
	} else {
		l.idleTimeout = DefaultIdleTimeout
	}
	if chainTag == "" {
		return nil, fmt.Errorf("create tcp listener failed: missing chain")
	}
	l.chainTag = chainTag
	return l, nil
}

func (l *TCPListener) Tag() string {
	return l.tag
}

func (l *TCPListener) Type() string {
	return TCPListenerType
}

func (l *TCPListener) ChainTag() string {
	return l.chainTag
}

func (l *TCPListener) Start() error {
	c := l.core.GetChain(l.chainTag)
	if c == nil {
		return fmt.Errorf("create tcp listener failed: chain [%s] not found", l.chainTag)
	}
	l.chain = c
	l.limiter = utils.NewLimiter(l.maxConnection)
	var err error
	l.tcpListener, err = net.Listen("tcp", l.listen)
	if err != nil {
		return fmt.Errorf("listen tcp failed: %s, error: %s", l.listen, err)
	}
	l.logger.Infof("tcp listener: listen %s", l.listen)
	go l.loopHandle()
	return nil
}

func (l *TCPListener) Close() error {
	l.cancel()
	l.tcpListener.Close()
	return nil
}

func (l *TCPListener) loopHandle() {
	for {
		if !l.limiter.Get(l.ctx) {
			l.limiter.PutBack()
			return
		}
		conn, err := l.tcpListener.Accept()
		if err != nil {
			l.limiter.PutBack()
			return
		}
		go l.serve(conn)
	}
}

func (l *TCPListener) serve(conn net.Conn) {
	defer l.limiter.PutBack()
	defer conn.Close()
	addr, err := netip.ParseAddrPort(conn.RemoteAddr().String())
	if err != nil {
		l.logger.Debugf("parse client address failed: %s", err)
		return
	}
	for {
		err = conn.SetReadDeadline(time.Now().Add(l.idleTimeout))
		if err != nil {
			if !connIsClosed(err) {
				l.logger.Errorf("set read deadline failed: %s", err)
			}
			return
		}
		var length uint16
		err = binary.Read(conn, binary.BigEndian, &length)
		if err != nil {
			if !connIsClosed(err) {
				l.logger.Errorf("read data failed: %s", err)
			}
			return
		}
		if length == 0 {
			l.logger.Error("invalid length")
			return
		}
		packet := make([]byte, length)
		_, err = io.ReadFull(conn, packet)
		if err != nil {
			if !connIsClosed(err) {
				l.logger.Errorf("read data failed: %s", err)
			}
			return
		}
		go func(packet []byte) {
			resp := l.Handle(l.ctx, packet, addr)
			if resp == nil {
				return
			}
			if len(resp) > 65535 {
				l.logger.Errorf("response too large for tcp framing: %d bytes", len(resp))
				return
			}
			buffer := make([]byte, 2+len(resp))
			binary.BigEndian.PutUint16(buffer, uint16(len(resp)))
			copy(buffer[2:], resp)
			err := conn.SetWriteDeadline(time.Now().Add(l.idleTimeout))
			if err != nil {
				l.logger.Errorf("set write deadline failed: %s", err)
				return
			}
			_, err = conn.Write(buffer)
			if err != nil {
				l.logger.Debugf("write response failed: client address: %s, error: %s", addr.String(), err)
			}
		}(packet)
	}
}

func (l *TCPListener) Handle(ctx context.Context, packet []byte, clientAddr netip.AddrPort) []byte {
	ctx, cancel := context.WithTimeout(ctx, l.dealTimeout)
	defer cancel()
	return listenerHandle(ctx, l.tag, l.logger, l.chain, packet, clientAddr)
}
