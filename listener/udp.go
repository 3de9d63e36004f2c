package listener

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/plugdns/plugdns/adapter"
	"github.com/plugdns/plugdns/log"
	"github.com/plugdns/plugdns/utils"

	"github.com/miekg/dns"
)

type UDPListenerOptions struct {
	Listen        string `yaml:"listen"`
	MaxConnection int    `yaml:"max-connection,omitempty"`
}

const (
	UDPListenerType  = "udp"
	UDPMaxBufferSize = 4096
)

var (
	_ adapter.Listener = (*UDPListener)(nil)
	_ adapter.Starter  = (*UDPListener)(nil)
	_ adapter.Closer   = (*UDPListener)(nil)
)

type UDPListener struct {
	ctx    context.Context
	cancel context.CancelFunc
	tag    string
	core   adapter.Core
	logger log.Logger

	listen      string
	chainTag    string
	chain       adapter.Chain
	dealTimeout time.Duration

	maxConnection int

	limiter *utils.Limiter
	udpConn net.PacketConn
}

func NewUDPListener(ctx context.Context, core adapter.Core, logger log.Logger, tag string, options UDPListenerOptions, chainTag string, dealTimeout time.Duration) (adapter.Listener, error) {
	ctx, cancel := context.WithCancel(ctx)
	l := &UDPListener{
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
		return nil, fmt.Errorf("create udp listener failed: %s", err)
	}
	if options.MaxConnection > 0 {
		l.maxConnection = options.MaxConnection
	} else {
		l.maxConnection = DefaultMaxConnection
	}
	if chainTag == "" {
		return nil, fmt.Errorf("create udp listener failed: missing chain")
	}
	l.chainTag = chainTag
	return l, nil
}

func (l *UDPListener) Tag() string {
	return l.tag
}

func (l *UDPListener) Type() string {
	return UDPListenerType
}

func (l *UDPListener) ChainTag() string {
	return l.chainTag
}

func (l *UDPListener) Start() error {
	c := l.core.GetChain(l.chainTag)
	if c == nil {
		return fmt.Errorf("create udp listener failed: chain [%s] not found", l.chainTag)
	}
	l.chain = c
	l.limiter = utils.NewLimiter(l.maxConnection)
	udpAddr, err := net.ResolveUDPAddr("udp", l.listen)
	if err != nil {
		return fmt.Errorf("resolve udp address failed: %s", err)
	}
	l.udpConn, err = net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("listen udp failed: %s, error: %s", udpAddr.String(), err)
	}
	l.logger.Infof("udp listener: listen %s", l.listen)
	go l.loopHandle()
	return nil
}

func (l *UDPListener) Close() error {
	l.cancel()
	l.udpConn.Close()
	return nil
}

func (l *UDPListener) loopHandle() {
	for {
		if !l.limiter.Get(l.ctx) {
			l.limiter.PutBack()
			return
		}
		buffer := make([]byte, UDPMaxBufferSize)
		n, remoteAddr, err := l.udpConn.ReadFrom(buffer)
		if err != nil {
			l.limiter.PutBack()
			return
		}
		addr, err := netip.ParseAddrPort(remoteAddr.String())
		if err != nil {
			l.logger.Debugf("parse client address failed: %s", err)
			l.limiter.PutBack()
			continue
		}
		go l.serve(buffer[:n], addr)
	}
}

func (l *UDPListener) serve(packet []byte, addr netip.AddrPort) {
	defer l.limiter.PutBack()
	resp := l.Handle(l.ctx, packet, addr)
	if resp == nil {
		return
	}
	resp = truncateToUDPSize(packet, resp)
	_, err := l.udpConn.WriteTo(resp, &net.UDPAddr{IP: addr.Addr().AsSlice(), Port: int(addr.Port())})
	if err != nil {
		l.logger.Debugf("write response failed: client address: %s, error: %s", addr.String(), err)
	}
}

func (l *UDPListener) Handle(ctx context.Context, packet []byte, clientAddr netip.AddrPort) []byte {
	ctx, cancel := context.WithTimeout(ctx, l.dealTimeout)
	defer cancel()
	return listenerHandle(ctx, l.tag, l.logger, l.chain, packet, clientAddr)
}

// truncateToUDPSize re-packs a DNS response that exceeds the client's EDNS
// buffer size. Responses that do not parse as DNS pass through untouched:
// chains are free to produce opaque payloads.
func truncateToUDPSize(packet []byte, resp []byte) []byte {
	req := &dns.Msg{}
	if err := req.Unpack(packet); err != nil {
		return resp
	}
	size := getUDPSize(req)
	if len(resp) <= size {
		return resp
	}
	respMsg := &dns.Msg{}
	if err := respMsg.Unpack(resp); err != nil {
		return resp
	}
	respMsg.Truncate(size)
	raw, err := respMsg.Pack()
	if err != nil {
		return resp
	}
	return raw
}

// from mosdns(https://github.com/IrineSistiana/mosdns), thank for @IrineSistiana
func getUDPSize(m *dns.Msg) int {
	var s uint16
	if opt := m.IsEdns0(); opt != nil {
		s = opt.UDPSize()
	}
	if s < dns.MinMsgSize {
		s = dns.MinMsgSize
	}
	return int(s)
}
