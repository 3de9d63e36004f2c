package core

import (
	"context"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

const testConfig = `
log:
  level: error
  disable-timestamp: true
  disable-color: true
plugins:
  - tag: log
    type: logger
  - tag: rw
    type: rewrite
    args:
      suffix: ".lan"
chains:
  - tag: main
    plugins:
      - log
      - rw
listeners:
  - tag: in
    type: udp
    listen: 127.0.0.1:0
    chain: main
`

func newTestCore(t *testing.T) *Core {
	var options Options
	err := yaml.Unmarshal([]byte(testConfig), &options)
	if err != nil {
		t.Fatalf("parse config failed: %s", err)
	}
	c, _, err := NewCore(context.Background(), options)
	if err != nil {
		t.Fatalf("create core failed: %s", err)
	}
	return c.(*Core)
}

func TestNewCore(t *testing.T) {
	c := newTestCore(t)
	defer c.Close()
	for _, tag := range []string{"log", "rw"} {
		if c.GetPlugin(tag) == nil {
			t.Fatalf("plugin [%s] not found", tag)
		}
	}
	if c.GetChain("main") == nil {
		t.Fatal("chain [main] not found")
	}
	if c.GetListener("in") == nil {
		t.Fatal("listener [in] not found")
	}
	raw := c.GetPluginRawConfig("rw")
	if !strings.Contains(raw, "suffix") {
		t.Fatalf("unexpected raw config: %q", raw)
	}
	if c.GetPluginRawConfig("log") == "" {
		t.Fatal("missing raw config for plugin without args")
	}
}

func TestNewCoreDuplicateTag(t *testing.T) {
	var options Options
	err := yaml.Unmarshal([]byte(testConfig), &options)
	if err != nil {
		t.Fatalf("parse config failed: %s", err)
	}
	options.Plugins = append(options.Plugins, options.Plugins[0])
	_, _, err = NewCore(context.Background(), options)
	if err == nil || !strings.Contains(err.Error(), "duplicate plugin tag") {
		t.Fatalf("expected duplicate tag error, got: %v", err)
	}
}

func TestRebuildPlugin(t *testing.T) {
	c := newTestCore(t)
	defer c.Close()
	old := c.GetPlugin("rw")
	rebuilt, err := c.RebuildPlugin("rw")
	if err != nil {
		t.Fatalf("rebuild failed: %s", err)
	}
	if rebuilt == old {
		t.Fatal("rebuild returned the old instance")
	}
	if c.GetPlugin("rw") != rebuilt {
		t.Fatal("rebuilt instance was not published")
	}
	found := false
	for _, p := range c.GetPlugins() {
		if p == rebuilt {
			found = true
		}
		if p == old {
			t.Fatal("old instance still listed")
		}
	}
	if !found {
		t.Fatal("rebuilt instance missing from plugin list")
	}
	if _, err := c.RebuildPlugin("missing"); err == nil {
		t.Fatal("expected error for unknown tag")
	}
}
