package process

import (
	"bytes"
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/plugdns/plugdns/adapter"
	"github.com/plugdns/plugdns/log"
)

type fakeHelper struct {
	m map[string][]byte
}

func newFakeHelper() *fakeHelper {
	return &fakeHelper{m: make(map[string][]byte)}
}

func (h *fakeHelper) LoadConfig() string { return "" }
func (h *fakeHelper) CallNextPlugin(ctx context.Context, packet []byte) ([]byte, bool, error) {
	return append([]byte("next:"), packet...), true, nil
}
func (h *fakeHelper) MapSet(key []byte, value []byte, ttl time.Duration) { h.m[string(key)] = value }
func (h *fakeHelper) MapGet(key []byte) ([]byte, bool) {
	v, ok := h.m[string(key)]
	return v, ok
}
func (h *fakeHelper) MapRemove(key []byte)   { delete(h.m, string(key)) }
func (h *fakeHelper) UDP() adapter.UDPSocket { return nil }
func (h *fakeHelper) TCP() adapter.TCPSocket { return nil }

const handshake = `printf '{"name":"test","version":"0.0.0","protocol":"1"}\n'
read host
`

func newTestProcess(t *testing.T, script string) *Process {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	p, err := NewProcess(context.Background(), nil, log.NewNopLogger(), "proc", map[string]any{
		"command": "/bin/sh",
		"args":    []string{"-c", script},
	})
	if err != nil {
		t.Fatal(err)
	}
	proc := p.(*Process)
	if err := proc.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { proc.Close() })
	return proc
}

func TestProcessRun(t *testing.T) {
	// child answers every packet with base64("resp")
	p := newTestProcess(t, handshake+`read req
printf '{"method":"return","packet":"cmVzcA=="}\n'
`)
	resp, err := p.Run(context.Background(), newFakeHelper(), []byte("query"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(resp, []byte("resp")) {
		t.Fatalf("unexpected response: %q", resp)
	}
}

func TestProcessError(t *testing.T) {
	p := newTestProcess(t, handshake+`read req
printf '{"method":"error","code":5,"msg":"nope"}\n'
`)
	_, err := p.Run(context.Background(), newFakeHelper(), []byte("query"))
	var pErr *adapter.Error
	if !errors.As(err, &pErr) {
		t.Fatalf("expected plugin error, got %v", err)
	}
	if pErr.Code != 5 || pErr.Msg != "nope" {
		t.Fatalf("unexpected error: %v", pErr)
	}
}

func TestProcessHelperCalls(t *testing.T) {
	// child stores base64("k") -> base64("v") in the map, reads it back
	// and finishes
	p := newTestProcess(t, handshake+`read req
printf '{"method":"map-set","key":"aw==","value":"dg=="}\n'
read r1
printf '{"method":"map-get","key":"aw=="}\n'
read r2
printf '{"method":"return","packet":"b2s="}\n'
`)
	helper := newFakeHelper()
	resp, err := p.Run(context.Background(), helper, []byte("query"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(resp, []byte("ok")) {
		t.Fatalf("unexpected response: %q", resp)
	}
	if v, ok := helper.m["k"]; !ok || !bytes.Equal(v, []byte("v")) {
		t.Fatalf("map-set did not reach the store: %v", helper.m)
	}
}

func TestProcessValidConfig(t *testing.T) {
	p := newTestProcess(t, handshake+`read req
printf '{"method":"error","code":1,"msg":"bad config"}\n'
`)
	if err := p.ValidConfig(); err == nil {
		t.Fatal("expected config error")
	}
}

func TestProcessHelperDeniedDuringValidConfig(t *testing.T) {
	// map calls are refused while validating, but the child may still
	// finish cleanly afterwards
	p := newTestProcess(t, handshake+`read req
printf '{"method":"map-set","key":"aw==","value":"dg=="}\n'
read r1
printf '{"method":"return"}\n'
`)
	if err := p.ValidConfig(); err != nil {
		t.Fatal(err)
	}
}

func TestProcessProtocolMismatch(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	p, err := NewProcess(context.Background(), nil, log.NewNopLogger(), "proc", map[string]any{
		"command": "/bin/sh",
		"args":    []string{"-c", `printf '{"name":"test","version":"0.0.0","protocol":"999"}\n'`},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.(*Process).Start(); err == nil {
		t.Fatal("expected handshake failure")
	}
}

func TestProcessRespawnAfterExit(t *testing.T) {
	// child serves exactly one request and exits; a later run must respawn
	p := newTestProcess(t, handshake+`read req
printf '{"method":"return","packet":"b2s="}\n'
`)
	helper := newFakeHelper()
	if _, err := p.Run(context.Background(), helper, []byte("q")); err != nil {
		t.Fatal(err)
	}
	var resp []byte
	var err error
	for i := 0; i < 3; i++ {
		resp, err = p.Run(context.Background(), helper, []byte("q"))
		if err == nil {
			break
		}
	}
	if err != nil {
		t.Fatalf("process was not respawned: %v", err)
	}
	if !bytes.Equal(resp, []byte("ok")) {
		t.Fatalf("unexpected response: %q", resp)
	}
}

func TestProcessMissingCommand(t *testing.T) {
	if _, err := NewProcess(context.Background(), nil, log.NewNopLogger(), "proc", nil); err == nil {
		t.Fatal("expected error")
	}
}
