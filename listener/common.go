package listener

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/plugdns/plugdns/adapter"
	"github.com/plugdns/plugdns/log"

	"github.com/miekg/dns"
)

const (
	DefaultIdleTimeout   = 60 * time.Second
	DefaultDealTimeout   = 20 * time.Second
	DefaultMaxConnection = 256
)

func parseListen(listen string, defaultPort uint16) (string, error) {
	addr, err := netip.ParseAddrPort(listen)
	if err == nil {
		return addr.String(), nil
	}
	_listen := listen
	_listen = strings.Trim(_listen, "[]")
	ip, err := netip.ParseAddr(_listen)
	if err == nil {
		return netip.AddrPortFrom(ip, defaultPort).String(), nil
	}
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "", fmt.Errorf("invalid listen: %s, error: %s", listen, err)
	}
	if host == "" {
		host = "::"
	}
	ip, err = netip.ParseAddr(host)
	if err != nil {
		return "", fmt.Errorf("invalid listen: %s, error: %s", listen, err)
	}
	portUint16, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return "", fmt.Errorf("invalid listen: %s, error: %s", listen, err)
	}
	if portUint16 == 0 {
		return "", fmt.Errorf("invalid listen: %s, error: invalid port", listen)
	}
	return net.JoinHostPort(ip.String(), strconv.FormatUint(portUint16, 10)), nil
}

func connIsClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) {
		return true
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	if opErr, ok := err.(*net.OpError); ok {
		return opErr.Op == "read" && opErr.Err.Error() == "use of closed network connection"
	}
	return false
}

func packetInfo(packet []byte) string {
	req := &dns.Msg{}
	if err := req.Unpack(packet); err != nil || len(req.Question) == 0 {
		return fmt.Sprintf("opaque packet, %d bytes", len(packet))
	}
	q := req.Question[0]
	return fmt.Sprintf("%s %s %s", dns.ClassToString[q.Qclass], dns.TypeToString[q.Qtype], q.Name)
}

// servFail builds a SERVFAIL reply when the request parses as DNS. For
// opaque packets there is nothing sensible to answer and nil is returned.
func servFail(packet []byte) []byte {
	req := &dns.Msg{}
	if err := req.Unpack(packet); err != nil {
		return nil
	}
	resp := &dns.Msg{}
	resp.SetRcode(req, dns.RcodeServerFailure)
	raw, err := resp.Pack()
	if err != nil {
		return nil
	}
	return raw
}

func listenerHandle(ctx context.Context, listener string, logger log.Logger, chain adapter.Chain, packet []byte, clientAddr netip.AddrPort) []byte {
	chainCtx := adapter.NewChainContext(ctx, listener, clientAddr.Addr(), packet)
	ctx = chainCtx.Context()
	ctx = adapter.SaveLogContext(ctx, chainCtx)
	messageInfo := packetInfo(packet)
	logger.InfofContext(ctx, "new request: %s", messageInfo)
	resp, err := chain.Exec(ctx, chainCtx)
	if err != nil {
		logger.ErrorfContext(ctx, "handle request failed: %s, error: %s", messageInfo, err)
		return servFail(packet)
	}
	logger.InfofContext(ctx, "handle request success: %s", messageInfo)
	if resp == nil {
		return servFail(packet)
	}
	return resp
}
