package forward

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/plugdns/plugdns/adapter"
	"github.com/plugdns/plugdns/log"
	"github.com/plugdns/plugdns/plugin"
	"github.com/plugdns/plugdns/utils"

	"gopkg.in/yaml.v3"
)

const Type = "forward"

func init() {
	plugin.Register(Type, NewForward)
}

const recvBufferSize = 4096

type Args struct {
	Nameservers utils.Listable[string] `json:"nameservers" yaml:"nameservers"`
}

var _ adapter.Plugin = (*Forward)(nil)

// Forward relays the packet to upstream nameservers over proxied UDP
// sockets. Nameservers are tried in order, first answer wins. The
// nameserver list is re-read from the config blob on every run, so a
// rebuilt instance picks up config changes without code changes here.
type Forward struct {
	ctx    context.Context
	tag    string
	logger log.Logger

	nameservers []netip.AddrPort
}

func NewForward(ctx context.Context, _ adapter.Core, logger log.Logger, tag string, args any) (adapter.Plugin, error) {
	f := &Forward{
		ctx:    ctx,
		tag:    tag,
		logger: logger,
	}
	var a Args
	err := utils.JsonDecode(args, &a)
	if err != nil {
		return nil, fmt.Errorf("parse args failed: %w", err)
	}
	f.nameservers, err = parseNameservers(a.Nameservers)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func parseNameservers(raw []string) ([]netip.AddrPort, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("missing nameservers")
	}
	nameservers := make([]netip.AddrPort, 0, len(raw))
	for _, s := range raw {
		ap, err := netip.ParseAddrPort(s)
		if err != nil {
			return nil, fmt.Errorf("invalid nameserver: %s, error: %w", s, err)
		}
		if !ap.Addr().Is4() && !ap.Addr().Is4In6() {
			return nil, fmt.Errorf("invalid nameserver: %s, only ipv4 is supported", s)
		}
		nameservers = append(nameservers, ap)
	}
	return nameservers, nil
}

func (f *Forward) Tag() string {
	return f.tag
}

func (f *Forward) Type() string {
	return Type
}

func (f *Forward) ValidConfig() error {
	if len(f.nameservers) == 0 {
		return fmt.Errorf("missing nameservers")
	}
	return nil
}

func (f *Forward) Run(ctx context.Context, helper adapter.Helper, packet []byte) ([]byte, error) {
	nameservers, err := f.loadNameservers(helper)
	if err != nil {
		return nil, adapter.NewError(1, err.Error())
	}
	udp := helper.UDP()
	for _, nameserver := range nameservers {
		resp, code := f.exchange(udp, nameserver, packet)
		if code != adapter.ErrCodeOK {
			f.logger.DebugfContext(ctx, "nameserver %s failed: %s", nameserver, code)
			continue
		}
		return resp, nil
	}
	return nil, adapter.NewError(1, "all nameservers failed")
}

func (f *Forward) loadNameservers(helper adapter.Helper) ([]netip.AddrPort, error) {
	raw := helper.LoadConfig()
	if raw == "" {
		return f.nameservers, nil
	}
	var a Args
	if err := yaml.Unmarshal([]byte(raw), &a); err != nil {
		return nil, fmt.Errorf("parse config failed: %w", err)
	}
	return parseNameservers(a.Nameservers)
}

func (f *Forward) exchange(udp adapter.UDPSocket, nameserver netip.AddrPort, packet []byte) ([]byte, adapter.ErrCode) {
	fd, code := udp.Bind(adapter.SockAddr{})
	if code != adapter.ErrCodeOK {
		return nil, code
	}
	defer udp.Close(fd)
	target, ok := adapter.SockAddrFromAddrPort(nameserver)
	if !ok {
		return nil, adapter.ErrCodeNotSupported
	}
	if code := udp.Connect(fd, target); code != adapter.ErrCodeOK {
		return nil, code
	}
	if _, code := udp.Send(fd, packet); code != adapter.ErrCodeOK {
		return nil, code
	}
	return udp.Recv(fd, recvBufferSize)
}
