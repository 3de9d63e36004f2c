package core

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/logrusorgru/aurora/v4"
	"github.com/plugdns/plugdns/adapter"
	"github.com/plugdns/plugdns/api"
	"github.com/plugdns/plugdns/chain"
	"github.com/plugdns/plugdns/kv"
	"github.com/plugdns/plugdns/listener"
	"github.com/plugdns/plugdns/log"
	"github.com/plugdns/plugdns/plugin"
	"github.com/plugdns/plugdns/plugin/builtin"
	"github.com/plugdns/plugdns/sockproxy"
	"github.com/plugdns/plugdns/utils"
	"gopkg.in/yaml.v3"
)

func init() {
	builtin.Do()
}

var _ adapter.Core = (*Core)(nil)

type Core struct {
	ctx         context.Context
	rootLogger  log.Logger
	coreLogger  log.Logger
	closeOutput io.Closer
	timeFunc    func() time.Time
	//
	kvStore     kv.Store
	socketTable *sockproxy.Table
	apiServer   *api.APIServer
	//
	pluginMu        sync.Mutex
	plugins         []adapter.Plugin
	pluginMap       map[string]adapter.Plugin
	pluginOptionMap map[string]plugin.Options
	pluginRawConfig map[string]string
	//
	chains      []adapter.Chain
	chainMap    map[string]adapter.Chain
	listeners   []adapter.Listener
	listenerMap map[string]adapter.Listener
}

func NewCore(ctx context.Context, options Options) (adapter.Core, log.Logger, error) {
	level := log.LevelInfo
	switch options.Log.Level {
	case "debug", "Debug":
		level = log.LevelDebug
	case "info", "Info", "":
		level = log.LevelInfo
	case "warn", "Warn", "warning", "Warning":
		level = log.LevelWarn
	case "error", "Error":
		level = log.LevelError
	case "fatal", "Fatal":
		level = log.LevelFatal
	default:
		return nil, nil, fmt.Errorf("invalid log level: %s", options.Log.Level)
	}
	var logOutput io.Writer
	switch options.Log.Output {
	case "stdout", "Stdout", "":
		logOutput = os.Stdout
	case "stderr", "Stderr":
		logOutput = os.Stderr
	default:
		options.Log.DisableColor = true
		f, err := os.OpenFile(options.Log.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file failed: %s", err)
		}
		logOutput = f
	}
	rootLogger := log.NewSimpleLogger(logOutput, level, options.Log.DisableTimestamp, options.Log.DisableColor)
	c := &Core{
		ctx:        ctx,
		rootLogger: rootLogger,
		coreLogger: log.NewTagLogger(rootLogger, "core", aurora.RedFg),
		timeFunc:   time.Now,
	}
	if closer, isCloser := logOutput.(io.Closer); isCloser {
		c.closeOutput = closer
	}
	kvLogger := log.NewTagLogger(c.rootLogger, "kv", aurora.GreenFg)
	kvStore, err := kv.NewStore(c.ctx, kvLogger, options.KV, c.timeFunc)
	if err != nil {
		return nil, nil, fmt.Errorf("create kv store failed: %s", err)
	}
	c.kvStore = kvStore
	socketLogger := log.NewTagLogger(c.rootLogger, "socket", aurora.MagentaFg)
	c.socketTable = sockproxy.NewTable(c.ctx, socketLogger, options.Socket)
	if len(options.Plugins) == 0 {
		return nil, nil, fmt.Errorf("missing plugins")
	}
	c.plugins = make([]adapter.Plugin, 0, len(options.Plugins))
	c.pluginMap = make(map[string]adapter.Plugin, len(options.Plugins))
	c.pluginOptionMap = make(map[string]plugin.Options, len(options.Plugins))
	c.pluginRawConfig = make(map[string]string, len(options.Plugins))
	for i, pluginOptions := range options.Plugins {
		tag := pluginOptions.Tag
		if tag == "" {
			return nil, nil, fmt.Errorf("create plugin[%d] failed: missing plugin tag", i)
		}
		_, ok := c.pluginMap[tag]
		if ok {
			return nil, nil, fmt.Errorf("create plugin[%d] failed: duplicate plugin tag: %s", i, tag)
		}
		pluginLogger := log.NewTagLogger(c.rootLogger, fmt.Sprintf("plugin/%s", tag), aurora.BlueFg)
		p, err := plugin.New(c.ctx, c, pluginLogger, tag, pluginOptions.Type, pluginOptions.Args)
		if err != nil {
			return nil, nil, fmt.Errorf("create plugin[%d] failed: %s", i, err)
		}
		raw, err := yaml.Marshal(pluginOptions.Args)
		if err != nil {
			return nil, nil, fmt.Errorf("create plugin[%d] failed: marshal plugin config failed: %s", i, err)
		}
		c.plugins = append(c.plugins, p)
		c.pluginMap[tag] = p
		c.pluginOptionMap[tag] = pluginOptions
		c.pluginRawConfig[tag] = string(raw)
	}
	if len(options.Chains) == 0 {
		return nil, nil, fmt.Errorf("missing chains")
	}
	c.chains = make([]adapter.Chain, 0, len(options.Chains))
	c.chainMap = make(map[string]adapter.Chain, len(options.Chains))
	for i, chainOptions := range options.Chains {
		tag := chainOptions.Tag
		if tag == "" {
			return nil, nil, fmt.Errorf("create chain[%d] failed: missing chain tag", i)
		}
		_, ok := c.chainMap[tag]
		if ok {
			return nil, nil, fmt.Errorf("create chain[%d] failed: duplicate chain tag: %s", i, tag)
		}
		chainLogger := log.NewTagLogger(c.rootLogger, fmt.Sprintf("chain/%s", tag), aurora.CyanFg)
		ch, err := chain.NewChain(c.ctx, c, chainLogger, tag, chainOptions)
		if err != nil {
			return nil, nil, fmt.Errorf("create chain[%d] failed: %s", i, err)
		}
		c.chains = append(c.chains, ch)
		c.chainMap[tag] = ch
	}
	if len(options.Listeners) == 0 {
		return nil, nil, fmt.Errorf("missing listeners")
	}
	c.listeners = make([]adapter.Listener, 0, len(options.Listeners))
	c.listenerMap = make(map[string]adapter.Listener, len(options.Listeners))
	for i, listenerOptions := range options.Listeners {
		tag := listenerOptions.Tag
		if tag == "" {
			return nil, nil, fmt.Errorf("create listener[%d] failed: missing listener tag", i)
		}
		_, ok := c.listenerMap[tag]
		if ok {
			return nil, nil, fmt.Errorf("create listener[%d] failed: duplicate listener tag: %s", i, tag)
		}
		listenerLogger := log.NewTagLogger(c.rootLogger, fmt.Sprintf("listener/%s", tag), aurora.YellowFg)
		l, err := listener.NewListener(c.ctx, c, listenerLogger, tag, listenerOptions)
		if err != nil {
			return nil, nil, fmt.Errorf("create listener[%d] failed: %s", i, err)
		}
		c.listeners = append(c.listeners, l)
		c.listenerMap[tag] = l
	}
	if options.API != nil {
		apiLogger := log.NewTagLogger(c.rootLogger, "api", aurora.WhiteFg)
		s, err := api.NewAPIServer(c.ctx, c, apiLogger, *options.API)
		if err != nil {
			return nil, nil, fmt.Errorf("create api server failed: %s", err)
		}
		c.apiServer = s
	}
	return c, c.coreLogger, nil
}

func (c *Core) Close() error {
	if c.closeOutput != nil {
		return c.closeOutput.Close()
	}
	return nil
}

func (c *Core) Run() error {
	c.coreLogger.Info("core is starting...")
	defer c.coreLogger.Info("core is stopped")
	t := time.Now()
	var err error
	// KV store
	if starter, isStarter := c.kvStore.(adapter.Starter); isStarter {
		err = starter.Start()
		if err != nil {
			err = fmt.Errorf("start kv store failed: %s", err)
			c.rootLogger.Fatal(err)
			return err
		}
	}
	defer func() {
		if closer, isCloser := c.kvStore.(adapter.Closer); isCloser {
			err := closer.Close()
			if err != nil {
				c.coreLogger.Errorf("close kv store failed: %s", err)
			} else {
				c.coreLogger.Info("close kv store success")
			}
		}
	}()
	// Socket table
	defer func() {
		err := c.socketTable.Close()
		if err != nil {
			c.coreLogger.Errorf("close socket table failed: %s", err)
		} else {
			c.coreLogger.Info("close socket table success")
		}
	}()
	// Plugins
	pluginStack := utils.NewStack[string](len(c.plugins))
	defer func() {
		var err error
		for pluginStack.Len() > 0 {
			tag := pluginStack.Pop()
			p := c.GetPlugin(tag)
			closer, isCloser := p.(adapter.Closer)
			if isCloser {
				err = closer.Close()
				if err != nil {
					c.coreLogger.Errorf("close plugin[%s] failed: %s", tag, err)
				} else {
					c.coreLogger.Infof("close plugin[%s] success", tag)
				}
			}
		}
	}()
	for _, p := range c.plugins {
		starter, isStarter := p.(adapter.Starter)
		if isStarter {
			err = starter.Start()
			if err != nil {
				err = fmt.Errorf("start plugin[%s] failed: %s", p.Tag(), err)
				c.rootLogger.Fatal(err)
				return err
			}
		}
		pluginStack.Push(p.Tag())
	}
	// Chains
	chainStack := utils.NewStack[adapter.Chain](len(c.chains))
	defer func() {
		var err error
		for chainStack.Len() > 0 {
			ch := chainStack.Pop()
			closer, isCloser := ch.(adapter.Closer)
			if isCloser {
				err = closer.Close()
				if err != nil {
					c.coreLogger.Errorf("close chain[%s] failed: %s", ch.Tag(), err)
				}
			}
		}
	}()
	for _, ch := range c.chains {
		err = ch.Check()
		if err != nil {
			err = fmt.Errorf("check chain[%s] failed: %s", ch.Tag(), err)
			c.rootLogger.Fatal(err)
			return err
		}
		chainStack.Push(ch)
	}
	// Listeners
	listenerStack := utils.NewStack[adapter.Listener](len(c.listeners))
	defer func() {
		var err error
		for listenerStack.Len() > 0 {
			l := listenerStack.Pop()
			closer, isCloser := l.(adapter.Closer)
			if isCloser {
				err = closer.Close()
				if err != nil {
					c.coreLogger.Errorf("close listener[%s] failed: %s", l.Tag(), err)
				} else {
					c.coreLogger.Infof("close listener[%s] success", l.Tag())
				}
			}
		}
	}()
	for _, l := range c.listeners {
		starter, isStarter := l.(adapter.Starter)
		if isStarter {
			err = starter.Start()
			if err != nil {
				err = fmt.Errorf("start listener[%s] failed: %s", l.Tag(), err)
				c.rootLogger.Fatal(err)
				return err
			}
		}
		listenerStack.Push(l)
	}
	// API server
	if c.apiServer != nil {
		err = c.apiServer.Start()
		if err != nil {
			err = fmt.Errorf("start api server failed: %s", err)
			c.rootLogger.Fatal(err)
			return err
		}
		defer func() {
			err := c.apiServer.Close()
			if err != nil {
				c.coreLogger.Errorf("close api server failed: %s", err)
			} else {
				c.coreLogger.Info("close api server success")
			}
		}()
	}
	duration := time.Since(t)
	c.coreLogger.Infof("core is started, cost: %dms", duration.Milliseconds())
	<-c.ctx.Done()
	c.coreLogger.Info("core is stopping...")
	return nil
}

func (c *Core) GetListener(tag string) adapter.Listener {
	return c.listenerMap[tag]
}

func (c *Core) GetListeners() []adapter.Listener {
	return c.listeners
}

func (c *Core) GetChain(tag string) adapter.Chain {
	return c.chainMap[tag]
}

func (c *Core) GetChains() []adapter.Chain {
	return c.chains
}

func (c *Core) GetPlugin(tag string) adapter.Plugin {
	c.pluginMu.Lock()
	defer c.pluginMu.Unlock()
	return c.pluginMap[tag]
}

func (c *Core) GetPlugins() []adapter.Plugin {
	c.pluginMu.Lock()
	defer c.pluginMu.Unlock()
	plugins := make([]adapter.Plugin, len(c.plugins))
	copy(plugins, c.plugins)
	return plugins
}

func (c *Core) GetPluginRawConfig(tag string) string {
	c.pluginMu.Lock()
	defer c.pluginMu.Unlock()
	return c.pluginRawConfig[tag]
}

// RebuildPlugin replaces a faulted plugin instance with a fresh one built
// from the same configuration. The new instance is started before it is
// published.
func (c *Core) RebuildPlugin(tag string) (adapter.Plugin, error) {
	c.pluginMu.Lock()
	defer c.pluginMu.Unlock()
	pluginOptions, ok := c.pluginOptionMap[tag]
	if !ok {
		return nil, fmt.Errorf("plugin [%s] not found", tag)
	}
	pluginLogger := log.NewTagLogger(c.rootLogger, fmt.Sprintf("plugin/%s", tag), aurora.BlueFg)
	p, err := plugin.New(c.ctx, c, pluginLogger, tag, pluginOptions.Type, pluginOptions.Args)
	if err != nil {
		return nil, fmt.Errorf("rebuild plugin [%s] failed: %s", tag, err)
	}
	if starter, isStarter := p.(adapter.Starter); isStarter {
		err = starter.Start()
		if err != nil {
			return nil, fmt.Errorf("rebuild plugin [%s] failed: %s", tag, err)
		}
	}
	c.pluginMap[tag] = p
	for i, old := range c.plugins {
		if old.Tag() == tag {
			c.plugins[i] = p
			break
		}
	}
	return p, nil
}

func (c *Core) KVStore() adapter.KVStore {
	return c.kvStore
}

func (c *Core) SocketTable() adapter.SocketTable {
	return c.socketTable
}

func (c *Core) GetTimeFunc() func() time.Time {
	return c.timeFunc
}
