package logger

import (
	"context"
	"fmt"

	"github.com/plugdns/plugdns/adapter"
	"github.com/plugdns/plugdns/log"
	"github.com/plugdns/plugdns/plugin"
	"github.com/plugdns/plugdns/utils"

	"github.com/miekg/dns"
)

const Type = "logger"

func init() {
	plugin.Register(Type, NewLogger)
}

type Args struct {
	// Template is prepended to every line, to tell instances apart when
	// several logger plugins sit in one chain.
	Template string `json:"template"`
}

var _ adapter.Plugin = (*Logger)(nil)

// Logger logs request metadata, hands the packet to the next plugin and
// returns whatever comes back unchanged.
type Logger struct {
	ctx    context.Context
	tag    string
	logger log.Logger

	template string
}

func NewLogger(ctx context.Context, _ adapter.Core, logger log.Logger, tag string, args any) (adapter.Plugin, error) {
	l := &Logger{
		ctx:    ctx,
		tag:    tag,
		logger: logger,
	}
	var a Args
	err := utils.JsonDecode(args, &a)
	if err != nil {
		return nil, fmt.Errorf("parse args failed: %w", err)
	}
	l.template = a.Template
	return l, nil
}

func (l *Logger) Tag() string {
	return l.tag
}

func (l *Logger) Type() string {
	return Type
}

func (l *Logger) ValidConfig() error {
	return nil
}

func (l *Logger) Run(ctx context.Context, helper adapter.Helper, packet []byte) ([]byte, error) {
	l.logger.InfofContext(ctx, "%squery: %s, %d bytes", l.prefix(), describe(packet), len(packet))
	resp, ok, err := helper.CallNextPlugin(ctx, packet)
	if err != nil {
		l.logger.WarnfContext(ctx, "%squery failed: %v", l.prefix(), err)
		return nil, err
	}
	if !ok {
		l.logger.DebugfContext(ctx, "%send of chain, packet returned unchanged", l.prefix())
		return packet, nil
	}
	l.logger.InfofContext(ctx, "%sresponse: %d bytes", l.prefix(), len(resp))
	return resp, nil
}

func (l *Logger) prefix() string {
	if l.template == "" {
		return ""
	}
	return l.template + ": "
}

// describe renders the question section if the packet parses as DNS, and
// falls back to an opaque label otherwise: the host never requires packets
// to be DNS.
func describe(packet []byte) string {
	msg := &dns.Msg{}
	if err := msg.Unpack(packet); err != nil || len(msg.Question) == 0 {
		return "(opaque packet)"
	}
	q := msg.Question[0]
	return fmt.Sprintf("%s %s %s", q.Name, dns.ClassToString[q.Qclass], dns.TypeToString[q.Qtype])
}
