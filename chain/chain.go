package chain

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/plugdns/plugdns/adapter"
	"github.com/plugdns/plugdns/log"
	"github.com/plugdns/plugdns/utils"
)

const (
	DefaultMaxRestarts    = 3
	DefaultRestartBackoff = utils.Duration(5 * time.Second)
)

type Options struct {
	Tag     string                 `yaml:"tag"`
	Plugins utils.Listable[string] `yaml:"plugins"`
	// MaxRestarts bounds how many times a faulted plugin instance is
	// rebuilt before it is disabled for good.
	MaxRestarts    int            `yaml:"max-restarts,omitempty"`
	RestartBackoff utils.Duration `yaml:"restart-backoff,omitempty"`
}

var (
	_ adapter.Chain  = (*Chain)(nil)
	_ adapter.Closer = (*Chain)(nil)
)

type Chain struct {
	ctx    context.Context
	tag    string
	core   adapter.Core
	logger log.Logger

	maxRestarts    int
	restartBackoff time.Duration

	pluginTags []string
	instances  []*instance
}

func NewChain(ctx context.Context, core adapter.Core, logger log.Logger, tag string, options Options) (adapter.Chain, error) {
	c := &Chain{
		ctx:            ctx,
		tag:            tag,
		core:           core,
		logger:         logger,
		maxRestarts:    options.MaxRestarts,
		restartBackoff: time.Duration(options.RestartBackoff),
	}
	if c.maxRestarts <= 0 {
		c.maxRestarts = DefaultMaxRestarts
	}
	if c.restartBackoff <= 0 {
		c.restartBackoff = time.Duration(DefaultRestartBackoff)
	}
	if len(options.Plugins) == 0 {
		return nil, fmt.Errorf("missing plugins")
	}
	c.pluginTags = options.Plugins
	return c, nil
}

func (c *Chain) Tag() string {
	return c.tag
}

func (c *Chain) PluginTags() []string {
	return c.pluginTags
}

// Check resolves the configured plugin tags and validates each instance's
// config. Unknown tags fail the chain; instances with an invalid config are
// logged and dropped from the active chain.
func (c *Chain) Check() error {
	c.instances = make([]*instance, 0, len(c.pluginTags))
	for _, pluginTag := range c.pluginTags {
		p := c.core.GetPlugin(pluginTag)
		if p == nil {
			return fmt.Errorf("plugin [%s] not found", pluginTag)
		}
		if err := p.ValidConfig(); err != nil {
			c.logger.Warnf("plugin [%s] config invalid, excluded from chain [%s]: %v", pluginTag, c.tag, err)
			continue
		}
		c.instances = append(c.instances, &instance{
			tag:    pluginTag,
			plugin: p,
			owner:  c.core.SocketTable().NewOwner(),
		})
	}
	if len(c.instances) == 0 {
		return fmt.Errorf("no valid plugins")
	}
	return nil
}

func (c *Chain) Close() error {
	for _, inst := range c.instances {
		inst.mu.Lock()
		if inst.plugin != nil {
			c.core.SocketTable().ReleaseOwner(inst.owner)
			inst.plugin = nil
		}
		inst.mu.Unlock()
	}
	return nil
}

func (c *Chain) Process(ctx context.Context, packet []byte) ([]byte, error) {
	chainCtx := adapter.NewChainContext(ctx, "", netip.Addr{}, packet)
	ctx = adapter.SaveLogContext(ctx, chainCtx)
	return c.Exec(ctx, chainCtx)
}

func (c *Chain) Exec(ctx context.Context, chainCtx *adapter.ChainContext) ([]byte, error) {
	resp, ok, err := c.runFrom(ctx, chainCtx, 0, chainCtx.Packet())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("chain [%s] has no plugins", c.tag)
	}
	return resp, nil
}

// runFrom invokes the plugin at index and returns its result. ok is false
// when index is past the end of the chain: for the dispatcher that means an
// empty chain, for a forwarding plugin it means it is the last one.
func (c *Chain) runFrom(ctx context.Context, chainCtx *adapter.ChainContext, index int, packet []byte) ([]byte, bool, error) {
	if index >= len(c.instances) {
		return nil, false, nil
	}
	if utils.IsContextCancelled(ctx) {
		return nil, false, ctx.Err()
	}
	inst := c.instances[index]
	p, err := c.acquire(inst)
	if err != nil {
		return nil, true, err
	}
	prev := chainCtx.Position()
	chainCtx.SetPosition(index)
	chainCtx.SetPacket(packet)
	defer chainCtx.SetPosition(prev)
	c.logger.DebugfContext(ctx, "chain [%s]: plugin [%s] run", c.tag, inst.tag)
	gw := &gateway{
		chain:    c,
		chainCtx: chainCtx,
		index:    index,
		instance: inst,
	}
	resp, err, panicked := c.safeRun(ctx, p, gw, packet)
	if panicked {
		c.fault(inst)
	}
	if err != nil {
		c.logger.ErrorfContext(ctx, "chain [%s]: plugin [%s] failed: %v", c.tag, inst.tag, err)
		return nil, true, err
	}
	return resp, true, nil
}

func (c *Chain) safeRun(ctx context.Context, p adapter.Plugin, helper adapter.Helper, packet []byte) (resp []byte, err error, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.ErrorfContext(ctx, "plugin [%s] panic: %v", p.Tag(), r)
			resp = nil
			err = adapter.NewInternalError(fmt.Sprintf("plugin [%s] unavailable", p.Tag()))
			panicked = true
		}
	}()
	resp, err = p.Run(ctx, helper, packet)
	return
}

// instance is one slot in the chain. plugin is nil while the slot is
// faulted; the next packet hitting the slot attempts a rebuild, subject to
// the restart budget and backoff.
type instance struct {
	tag string

	mu        sync.Mutex
	plugin    adapter.Plugin
	owner     uint64
	faults    int
	nextRetry time.Time
}

func (c *Chain) acquire(inst *instance) (adapter.Plugin, error) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.plugin != nil {
		return inst.plugin, nil
	}
	if inst.faults > c.maxRestarts {
		return nil, adapter.NewInternalError(fmt.Sprintf("plugin [%s] disabled after %d faults", inst.tag, inst.faults))
	}
	now := c.core.GetTimeFunc()()
	if now.Before(inst.nextRetry) {
		return nil, adapter.NewInternalError(fmt.Sprintf("plugin [%s] restarting", inst.tag))
	}
	p, err := c.core.RebuildPlugin(inst.tag)
	if err != nil {
		inst.nextRetry = now.Add(c.restartBackoff)
		return nil, adapter.NewInternalError(fmt.Sprintf("plugin [%s] rebuild failed: %v", inst.tag, err))
	}
	inst.plugin = p
	inst.owner = c.core.SocketTable().NewOwner()
	c.logger.Warnf("plugin [%s] rebuilt after fault", inst.tag)
	return inst.plugin, nil
}

func (c *Chain) fault(inst *instance) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.plugin == nil {
		return
	}
	if closer, ok := inst.plugin.(adapter.Closer); ok {
		closer.Close()
	}
	c.core.SocketTable().ReleaseOwner(inst.owner)
	inst.plugin = nil
	inst.faults++
	inst.nextRetry = c.core.GetTimeFunc()().Add(c.restartBackoff)
}
