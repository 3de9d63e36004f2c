package logger

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/plugdns/plugdns/adapter"
	"github.com/plugdns/plugdns/log"
	"github.com/plugdns/plugdns/plugin/rewrite"
)

type fakeHelper struct {
	next func(ctx context.Context, packet []byte) ([]byte, bool, error)
}

func (h *fakeHelper) LoadConfig() string { return "" }
func (h *fakeHelper) CallNextPlugin(ctx context.Context, packet []byte) ([]byte, bool, error) {
	if h.next == nil {
		return nil, false, nil
	}
	return h.next(ctx, packet)
}
func (h *fakeHelper) MapSet(key []byte, value []byte, ttl time.Duration) {}
func (h *fakeHelper) MapGet(key []byte) ([]byte, bool)                   { return nil, false }
func (h *fakeHelper) MapRemove(key []byte)                               {}
func (h *fakeHelper) UDP() adapter.UDPSocket                             { return nil }
func (h *fakeHelper) TCP() adapter.TCPSocket                             { return nil }

func TestLoggerForwardsResult(t *testing.T) {
	l, err := NewLogger(context.Background(), nil, log.NewNopLogger(), "log", nil)
	if err != nil {
		t.Fatal(err)
	}
	r, err := rewrite.NewRewrite(context.Background(), nil, log.NewNopLogger(), "rw", map[string]any{"suffix": "-out"})
	if err != nil {
		t.Fatal(err)
	}
	helper := &fakeHelper{
		next: func(ctx context.Context, packet []byte) ([]byte, bool, error) {
			resp, err := r.Run(ctx, nil, packet)
			return resp, true, err
		},
	}
	resp, err := l.Run(context.Background(), helper, []byte("query"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(resp, []byte("query-out")) {
		t.Fatalf("unexpected response: %q", resp)
	}
}

func TestLoggerLastInChain(t *testing.T) {
	l, err := NewLogger(context.Background(), nil, log.NewNopLogger(), "log", map[string]any{"template": "edge"})
	if err != nil {
		t.Fatal(err)
	}
	packet := []byte("query")
	resp, err := l.Run(context.Background(), &fakeHelper{}, packet)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(resp, packet) {
		t.Fatalf("packet must pass through unchanged, got %q", resp)
	}
}
