package rewrite

import (
	"context"
	"fmt"

	"github.com/plugdns/plugdns/adapter"
	"github.com/plugdns/plugdns/log"
	"github.com/plugdns/plugdns/plugin"
	"github.com/plugdns/plugdns/utils"
)

const Type = "rewrite"

func init() {
	plugin.Register(Type, NewRewrite)
}

type Args struct {
	Suffix string `json:"suffix"`
}

var _ adapter.Plugin = (*Rewrite)(nil)

// Rewrite appends a fixed suffix to the packet and returns it without
// calling the rest of the chain. It terminates whatever chain it sits in.
type Rewrite struct {
	ctx    context.Context
	tag    string
	logger log.Logger

	suffix []byte
}

func NewRewrite(ctx context.Context, _ adapter.Core, logger log.Logger, tag string, args any) (adapter.Plugin, error) {
	r := &Rewrite{
		ctx:    ctx,
		tag:    tag,
		logger: logger,
	}
	var a Args
	err := utils.JsonDecode(args, &a)
	if err != nil {
		return nil, fmt.Errorf("parse args failed: %w", err)
	}
	r.suffix = []byte(a.Suffix)
	return r, nil
}

func (r *Rewrite) Tag() string {
	return r.tag
}

func (r *Rewrite) Type() string {
	return Type
}

func (r *Rewrite) ValidConfig() error {
	if len(r.suffix) == 0 {
		return fmt.Errorf("missing suffix")
	}
	return nil
}

func (r *Rewrite) Run(ctx context.Context, _ adapter.Helper, packet []byte) ([]byte, error) {
	out := make([]byte, 0, len(packet)+len(r.suffix))
	out = append(out, packet...)
	out = append(out, r.suffix...)
	r.logger.DebugfContext(ctx, "rewrote packet: %d -> %d bytes", len(packet), len(out))
	return out, nil
}
