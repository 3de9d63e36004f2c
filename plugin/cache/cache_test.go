package cache

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/plugdns/plugdns/adapter"
	"github.com/plugdns/plugdns/log"

	"github.com/miekg/dns"
)

type fakeHelper struct {
	next      func(ctx context.Context, packet []byte) ([]byte, bool, error)
	nextCalls int
	m         map[string][]byte
	ttls      map[string]time.Duration
}

func newFakeHelper(next func(ctx context.Context, packet []byte) ([]byte, bool, error)) *fakeHelper {
	return &fakeHelper{
		next: next,
		m:    make(map[string][]byte),
		ttls: make(map[string]time.Duration),
	}
}

func (h *fakeHelper) LoadConfig() string { return "" }

func (h *fakeHelper) CallNextPlugin(ctx context.Context, packet []byte) ([]byte, bool, error) {
	h.nextCalls++
	if h.next == nil {
		return nil, false, nil
	}
	return h.next(ctx, packet)
}

func (h *fakeHelper) MapSet(key []byte, value []byte, ttl time.Duration) {
	h.m[string(key)] = value
	h.ttls[string(key)] = ttl
}

func (h *fakeHelper) MapGet(key []byte) ([]byte, bool) {
	v, ok := h.m[string(key)]
	return v, ok
}

func (h *fakeHelper) MapRemove(key []byte) {
	delete(h.m, string(key))
}

func (h *fakeHelper) UDP() adapter.UDPSocket { return nil }
func (h *fakeHelper) TCP() adapter.TCPSocket { return nil }

func newRequest(t *testing.T, id uint16) []byte {
	t.Helper()
	req := &dns.Msg{}
	req.SetQuestion("example.org.", dns.TypeA)
	req.Id = id
	raw, err := req.Pack()
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func newResponse(t *testing.T, packet []byte, ttl uint32) []byte {
	t.Helper()
	req := &dns.Msg{}
	if err := req.Unpack(packet); err != nil {
		t.Fatal(err)
	}
	resp := &dns.Msg{}
	resp.SetReply(req)
	resp.Answer = append(resp.Answer, &dns.A{
		Hdr: dns.RR_Header{
			Name:   req.Question[0].Name,
			Rrtype: dns.TypeA,
			Class:  dns.ClassINET,
			Ttl:    ttl,
		},
		A: net.IPv4(192, 0, 2, 1),
	})
	raw, err := resp.Pack()
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func newTestCache(t *testing.T, args any) adapter.Plugin {
	t.Helper()
	c, err := NewCache(context.Background(), nil, log.NewNopLogger(), "cache", args)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestCacheMissThenHit(t *testing.T) {
	c := newTestCache(t, nil)
	helper := newFakeHelper(func(ctx context.Context, packet []byte) ([]byte, bool, error) {
		return newResponse(t, packet, 60), true, nil
	})

	resp, err := c.Run(context.Background(), helper, newRequest(t, 100))
	if err != nil {
		t.Fatal(err)
	}
	if helper.nextCalls != 1 {
		t.Fatalf("expected 1 upstream call, got %d", helper.nextCalls)
	}
	for _, ttl := range helper.ttls {
		if ttl != 60*time.Second {
			t.Fatalf("unexpected cache ttl: %s", ttl)
		}
	}
	msg := &dns.Msg{}
	if err := msg.Unpack(resp); err != nil {
		t.Fatal(err)
	}
	if len(msg.Answer) != 1 {
		t.Fatalf("expected 1 answer, got %d", len(msg.Answer))
	}

	// same question, different transaction id: answered from the map
	resp, err = c.Run(context.Background(), helper, newRequest(t, 200))
	if err != nil {
		t.Fatal(err)
	}
	if helper.nextCalls != 1 {
		t.Fatalf("expected cache hit, got %d upstream calls", helper.nextCalls)
	}
	msg = &dns.Msg{}
	if err := msg.Unpack(resp); err != nil {
		t.Fatal(err)
	}
	if msg.Id != 200 {
		t.Fatalf("cached response carries wrong id: %d", msg.Id)
	}
	if !msg.Response {
		t.Fatal("cached response is not marked as a response")
	}
}

func TestCacheMaxTTLCap(t *testing.T) {
	c := newTestCache(t, map[string]any{"max-ttl": "30s"})
	helper := newFakeHelper(func(ctx context.Context, packet []byte) ([]byte, bool, error) {
		return newResponse(t, packet, 3600), true, nil
	})
	if _, err := c.Run(context.Background(), helper, newRequest(t, 1)); err != nil {
		t.Fatal(err)
	}
	for _, ttl := range helper.ttls {
		if ttl != 30*time.Second {
			t.Fatalf("ttl not capped: %s", ttl)
		}
	}
}

func TestCacheNoNextPlugin(t *testing.T) {
	c := newTestCache(t, nil)
	helper := newFakeHelper(nil)
	_, err := c.Run(context.Background(), helper, newRequest(t, 1))
	if err == nil {
		t.Fatal("expected error when cache is last in the chain")
	}
}

func TestCacheUpstreamError(t *testing.T) {
	c := newTestCache(t, nil)
	helper := newFakeHelper(func(ctx context.Context, packet []byte) ([]byte, bool, error) {
		return nil, false, adapter.NewError(9, "upstream broken")
	})
	_, err := c.Run(context.Background(), helper, newRequest(t, 1))
	if err == nil {
		t.Fatal("expected error")
	}
	if len(helper.m) != 0 {
		t.Fatal("error response was cached")
	}
}

func TestCacheOpaquePacket(t *testing.T) {
	c := newTestCache(t, nil)
	helper := newFakeHelper(nil)
	_, err := c.Run(context.Background(), helper, []byte("not dns"))
	if err == nil {
		t.Fatal("expected error for undecodable packet")
	}
	var pErr *adapter.Error
	if !errors.As(err, &pErr) || pErr.Code != 1 {
		t.Fatalf("unexpected error: %v", err)
	}
}
