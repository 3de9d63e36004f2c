package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/plugdns/plugdns/adapter"
	"github.com/plugdns/plugdns/log"
	"github.com/plugdns/plugdns/plugin"
	"github.com/plugdns/plugdns/utils"

	"github.com/miekg/dns"
)

const Type = "cache"

func init() {
	plugin.Register(Type, NewCache)
}

type Args struct {
	// MaxTTL caps how long a response stays cached regardless of its
	// answer TTLs. Zero means no cap.
	MaxTTL utils.Duration `json:"max-ttl"`
}

var _ adapter.Plugin = (*Cache)(nil)

// Cache answers repeated questions from the shared map. On a miss it calls
// the rest of the chain and stores the response keyed by the question
// section, with a lifetime taken from the smallest answer TTL.
type Cache struct {
	ctx    context.Context
	tag    string
	logger log.Logger

	maxTTL time.Duration
}

func NewCache(ctx context.Context, _ adapter.Core, logger log.Logger, tag string, args any) (adapter.Plugin, error) {
	c := &Cache{
		ctx:    ctx,
		tag:    tag,
		logger: logger,
	}
	var a Args
	err := utils.JsonDecode(args, &a)
	if err != nil {
		return nil, fmt.Errorf("parse args failed: %w", err)
	}
	c.maxTTL = time.Duration(a.MaxTTL)
	return c, nil
}

func (c *Cache) Tag() string {
	return c.tag
}

func (c *Cache) Type() string {
	return Type
}

func (c *Cache) ValidConfig() error {
	return nil
}

func (c *Cache) Run(ctx context.Context, helper adapter.Helper, packet []byte) ([]byte, error) {
	req := &dns.Msg{}
	if err := req.Unpack(packet); err != nil {
		c.logger.DebugfContext(ctx, "decode dns request packet failed: %v", err)
		return nil, adapter.NewError(1, err.Error())
	}
	key := reqToKey(req)
	if key == nil {
		// uncacheable question, pass through
		resp, ok, err := helper.CallNextPlugin(ctx, packet)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, adapter.NewError(1, "no next plugin")
		}
		return resp, nil
	}
	if cached, ok := helper.MapGet(key); ok {
		c.logger.DebugfContext(ctx, "cache hit")
		return responseFromCache(req, cached)
	}
	resp, ok, err := helper.CallNextPlugin(ctx, packet)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, adapter.NewError(1, "no next plugin")
	}
	c.store(ctx, helper, key, resp)
	return resp, nil
}

func (c *Cache) store(ctx context.Context, helper adapter.Helper, key []byte, resp []byte) {
	respMsg := &dns.Msg{}
	if err := respMsg.Unpack(resp); err != nil {
		c.logger.DebugfContext(ctx, "decode dns response packet failed, not cached: %v", err)
		return
	}
	minTTL := respFindMinTTL(respMsg)
	if minTTL == 0 {
		return
	}
	ttl := time.Duration(minTTL) * time.Second
	if c.maxTTL > 0 && ttl > c.maxTTL {
		ttl = c.maxTTL
	}
	helper.MapSet(key, resp, ttl)
	c.logger.DebugfContext(ctx, "cached response, ttl: %s", ttl)
}

// reqToKey derives the cache key from the question section. Responses,
// non-queries and multi-question packets are not cacheable and yield nil.
func reqToKey(req *dns.Msg) []byte {
	if req.Response || req.Opcode != dns.OpcodeQuery || len(req.Question) != 1 {
		return nil
	}
	question := req.Question[0]
	buf := make([]byte, 0, 4+len(question.Name))
	buf = append(buf, byte(question.Qtype>>8), byte(question.Qtype))
	buf = append(buf, byte(question.Qclass>>8), byte(question.Qclass))
	buf = append(buf, question.Name...)
	return buf
}

// responseFromCache grafts the cached answer onto the incoming request so
// the transaction id and question match what the client sent.
func responseFromCache(req *dns.Msg, cached []byte) ([]byte, error) {
	cachedMsg := &dns.Msg{}
	if err := cachedMsg.Unpack(cached); err != nil {
		return nil, adapter.NewError(1, err.Error())
	}
	resp := cachedMsg.Copy()
	resp.Id = req.Id
	resp.Response = true
	if len(req.Question) > 0 {
		resp.Question = make([]dns.Question, len(req.Question))
		copy(resp.Question, req.Question)
	}
	raw, err := resp.Pack()
	if err != nil {
		return nil, adapter.NewError(1, err.Error())
	}
	return raw, nil
}

func respFindMinTTL(resp *dns.Msg) uint32 {
	var minTTL uint32
	for _, rr := range resp.Answer {
		ttl := rr.Header().Ttl
		if minTTL == 0 || (ttl != 0 && ttl < minTTL) {
			minTTL = ttl
		}
	}
	return minTTL
}
