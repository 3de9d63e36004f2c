package chain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/plugdns/plugdns/adapter"
	"github.com/plugdns/plugdns/log"
	"github.com/plugdns/plugdns/utils"
)

type fakePlugin struct {
	tag      string
	validErr error
	run      func(ctx context.Context, helper adapter.Helper, packet []byte) ([]byte, error)
}

func (p *fakePlugin) Tag() string        { return p.tag }
func (p *fakePlugin) Type() string       { return "fake" }
func (p *fakePlugin) ValidConfig() error { return p.validErr }
func (p *fakePlugin) Run(ctx context.Context, helper adapter.Helper, packet []byte) ([]byte, error) {
	return p.run(ctx, helper, packet)
}

type fakeKV struct {
	mu sync.Mutex
	m  map[string][]byte
}

func (s *fakeKV) Set(key []byte, value []byte, _ time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = make(map[string][]byte)
	}
	s.m[string(key)] = append([]byte(nil), value...)
}

func (s *fakeKV) Get(key []byte) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[string(key)]
	return v, ok
}

func (s *fakeKV) Remove(key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, string(key))
}

type fakeTable struct {
	nextOwner atomic.Uint64
	released  atomic.Int64
}

func (t *fakeTable) NewOwner() uint64                         { return t.nextOwner.Add(1) }
func (t *fakeTable) UDPSocket(owner uint64) adapter.UDPSocket { return nil }
func (t *fakeTable) TCPSocket(owner uint64) adapter.TCPSocket { return nil }
func (t *fakeTable) ReleaseOwner(owner uint64)                { t.released.Add(1) }
func (t *fakeTable) OpenHandles() int                         { return 0 }

type fakeCore struct {
	plugins    map[string]adapter.Plugin
	rawConfigs map[string]string
	rebuild    func(tag string) (adapter.Plugin, error)
	kv         *fakeKV
	table      *fakeTable

	mu  sync.Mutex
	now time.Time
}

func newFakeCore(plugins ...adapter.Plugin) *fakeCore {
	c := &fakeCore{
		plugins:    make(map[string]adapter.Plugin),
		rawConfigs: make(map[string]string),
		kv:         &fakeKV{},
		table:      &fakeTable{},
		now:        time.Now(),
	}
	for _, p := range plugins {
		c.plugins[p.Tag()] = p
	}
	return c
}

func (c *fakeCore) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeCore) Close() error                            { return nil }
func (c *fakeCore) Run() error                              { return nil }
func (c *fakeCore) GetListener(tag string) adapter.Listener { return nil }
func (c *fakeCore) GetListeners() []adapter.Listener        { return nil }
func (c *fakeCore) GetChain(tag string) adapter.Chain       { return nil }
func (c *fakeCore) GetChains() []adapter.Chain              { return nil }
func (c *fakeCore) GetPlugin(tag string) adapter.Plugin     { return c.plugins[tag] }
func (c *fakeCore) GetPlugins() []adapter.Plugin            { return nil }
func (c *fakeCore) GetPluginRawConfig(tag string) string    { return c.rawConfigs[tag] }
func (c *fakeCore) KVStore() adapter.KVStore                { return c.kv }
func (c *fakeCore) SocketTable() adapter.SocketTable        { return c.table }

func (c *fakeCore) RebuildPlugin(tag string) (adapter.Plugin, error) {
	if c.rebuild == nil {
		return nil, fmt.Errorf("plugin [%s] not rebuildable", tag)
	}
	return c.rebuild(tag)
}

func (c *fakeCore) GetTimeFunc() func() time.Time {
	return func() time.Time {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.now
	}
}

func newTestChain(t *testing.T, core adapter.Core, options Options) adapter.Chain {
	t.Helper()
	c, err := NewChain(context.Background(), core, log.NewNopLogger(), options.Tag, options)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Check(); err != nil {
		t.Fatal(err)
	}
	return c
}

func forwarding(tag string, before string) *fakePlugin {
	return &fakePlugin{
		tag: tag,
		run: func(ctx context.Context, helper adapter.Helper, packet []byte) ([]byte, error) {
			resp, ok, err := helper.CallNextPlugin(ctx, append(packet, []byte(before)...))
			if err != nil {
				return nil, err
			}
			if !ok {
				return packet, nil
			}
			return resp, nil
		},
	}
}

func TestChainForwardOrder(t *testing.T) {
	terminal := &fakePlugin{
		tag: "c",
		run: func(ctx context.Context, helper adapter.Helper, packet []byte) ([]byte, error) {
			return append(packet, '!'), nil
		},
	}
	core := newFakeCore(forwarding("a", "a"), forwarding("b", "b"), terminal)
	c := newTestChain(t, core, Options{Tag: "main", Plugins: []string{"a", "b", "c"}})

	resp, err := c.Process(context.Background(), []byte("q:"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(resp, []byte("q:ab!")) {
		t.Fatalf("unexpected response: %q", resp)
	}
}

func TestChainLastPluginHasNoNext(t *testing.T) {
	var sawEnd bool
	last := &fakePlugin{
		tag: "only",
		run: func(ctx context.Context, helper adapter.Helper, packet []byte) ([]byte, error) {
			_, ok, err := helper.CallNextPlugin(ctx, packet)
			if err != nil {
				return nil, err
			}
			sawEnd = !ok
			return packet, nil
		},
	}
	core := newFakeCore(last)
	c := newTestChain(t, core, Options{Tag: "main", Plugins: []string{"only"}})

	if _, err := c.Process(context.Background(), []byte("q")); err != nil {
		t.Fatal(err)
	}
	if !sawEnd {
		t.Fatal("last plugin did not observe end of chain")
	}
}

func TestChainPluginError(t *testing.T) {
	failing := &fakePlugin{
		tag: "bad",
		run: func(ctx context.Context, helper adapter.Helper, packet []byte) ([]byte, error) {
			return nil, adapter.NewError(7, "refused by policy")
		},
	}
	core := newFakeCore(forwarding("a", ""), failing)
	c := newTestChain(t, core, Options{Tag: "main", Plugins: []string{"a", "bad"}})

	_, err := c.Process(context.Background(), []byte("q"))
	var pErr *adapter.Error
	if !errors.As(err, &pErr) {
		t.Fatalf("expected plugin error, got %v", err)
	}
	if pErr.Code != 7 {
		t.Fatalf("unexpected code: %d", pErr.Code)
	}
}

func TestChainPanicAndRestart(t *testing.T) {
	var mode atomic.Int32 // 0 panic, 1 answer
	build := func(tag string) adapter.Plugin {
		return &fakePlugin{
			tag: tag,
			run: func(ctx context.Context, helper adapter.Helper, packet []byte) ([]byte, error) {
				if mode.Load() == 0 {
					panic("boom")
				}
				return []byte("ok"), nil
			},
		}
	}
	core := newFakeCore(build("p"))
	core.rebuild = func(tag string) (adapter.Plugin, error) {
		return build(tag), nil
	}
	c := newTestChain(t, core, Options{
		Tag:            "main",
		Plugins:        []string{"p"},
		RestartBackoff: utils.Duration(time.Second),
	})

	_, err := c.Process(context.Background(), []byte("q"))
	var pErr *adapter.Error
	if !errors.As(err, &pErr) || pErr.Code != adapter.CodeInternal {
		t.Fatalf("expected internal error after panic, got %v", err)
	}
	if core.table.released.Load() != 1 {
		t.Fatal("faulted instance did not release its sockets")
	}

	// still inside the backoff window: no rebuild yet
	_, err = c.Process(context.Background(), []byte("q"))
	if !errors.As(err, &pErr) || pErr.Code != adapter.CodeInternal {
		t.Fatalf("expected internal error during backoff, got %v", err)
	}

	mode.Store(1)
	core.advance(2 * time.Second)
	resp, err := c.Process(context.Background(), []byte("q"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(resp, []byte("ok")) {
		t.Fatalf("unexpected response after rebuild: %q", resp)
	}
}

func TestChainRestartBudget(t *testing.T) {
	build := func(tag string) adapter.Plugin {
		return &fakePlugin{
			tag: tag,
			run: func(ctx context.Context, helper adapter.Helper, packet []byte) ([]byte, error) {
				panic("boom")
			},
		}
	}
	core := newFakeCore(build("p"))
	core.rebuild = func(tag string) (adapter.Plugin, error) {
		return build(tag), nil
	}
	c := newTestChain(t, core, Options{
		Tag:            "main",
		Plugins:        []string{"p"},
		MaxRestarts:    1,
		RestartBackoff: utils.Duration(time.Second),
	})

	for i := 0; i < 4; i++ {
		if _, err := c.Process(context.Background(), []byte("q")); err == nil {
			t.Fatalf("round %d: expected error", i)
		}
		core.advance(2 * time.Second)
	}
	// budget exhausted: the slot stays disabled even after the backoff
	_, err := c.Process(context.Background(), []byte("q"))
	var pErr *adapter.Error
	if !errors.As(err, &pErr) || pErr.Code != adapter.CodeInternal {
		t.Fatalf("expected internal error from disabled slot, got %v", err)
	}
}

func TestChainCancellation(t *testing.T) {
	var ran atomic.Bool
	p := &fakePlugin{
		tag: "p",
		run: func(ctx context.Context, helper adapter.Helper, packet []byte) ([]byte, error) {
			ran.Store(true)
			return packet, nil
		},
	}
	core := newFakeCore(p)
	c := newTestChain(t, core, Options{Tag: "main", Plugins: []string{"p"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Process(ctx, []byte("q"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
	if ran.Load() {
		t.Fatal("plugin ran after cancellation")
	}
}

func TestChainCheckExcludesInvalid(t *testing.T) {
	broken := &fakePlugin{tag: "broken", validErr: fmt.Errorf("bad config")}
	good := &fakePlugin{
		tag: "good",
		run: func(ctx context.Context, helper adapter.Helper, packet []byte) ([]byte, error) {
			return []byte("ok"), nil
		},
	}
	core := newFakeCore(broken, good)
	c := newTestChain(t, core, Options{Tag: "main", Plugins: []string{"broken", "good"}})

	resp, err := c.Process(context.Background(), []byte("q"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(resp, []byte("ok")) {
		t.Fatalf("unexpected response: %q", resp)
	}
}

func TestChainCheckUnknownPlugin(t *testing.T) {
	core := newFakeCore()
	c, err := NewChain(context.Background(), core, log.NewNopLogger(), "main", Options{Tag: "main", Plugins: []string{"nope"}})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Check(); err == nil {
		t.Fatal("expected error for unknown plugin tag")
	}
}

func TestHelperConfigAndMap(t *testing.T) {
	p := &fakePlugin{
		tag: "p",
		run: func(ctx context.Context, helper adapter.Helper, packet []byte) ([]byte, error) {
			if cfg := helper.LoadConfig(); cfg != "suffix: .lan\n" {
				return nil, fmt.Errorf("unexpected config: %q", cfg)
			}
			helper.MapSet([]byte("k"), []byte("v"), 0)
			v, ok := helper.MapGet([]byte("k"))
			if !ok || !bytes.Equal(v, []byte("v")) {
				return nil, fmt.Errorf("map roundtrip failed")
			}
			helper.MapRemove([]byte("k"))
			if _, ok := helper.MapGet([]byte("k")); ok {
				return nil, fmt.Errorf("remove failed")
			}
			return packet, nil
		},
	}
	core := newFakeCore(p)
	core.rawConfigs["p"] = "suffix: .lan\n"
	c := newTestChain(t, core, Options{Tag: "main", Plugins: []string{"p"}})

	if _, err := c.Process(context.Background(), []byte("q")); err != nil {
		t.Fatal(err)
	}
}
