package adapter

import (
	"context"
	"math"
	"math/rand"
	"net/netip"
	"time"

	"github.com/logrusorgru/aurora/v4"
)

func randomID() uint32 {
	start := uint32(math.Pow(10, 8))
	end := uint32(math.Pow(10, 9)) - 1
	diff := end - start
	return start + uint32(rand.Int63n(int64(diff)))
}

func idToColor(id uint32) aurora.Color {
	var color aurora.Color
	color = aurora.Color(uint8(id))
	color %= 215
	row := uint(color / 36)
	column := uint(color % 36)
	var r, g, b float32
	r = float32(row * 51)
	g = float32(column / 6 * 51)
	b = float32((column % 6) * 51)
	luma := 0.2126*r + 0.7152*g + 0.0722*b
	if luma < 60 {
		row = 5 - row
		column = 35 - column
		color = aurora.Color(row*36 + column)
	}
	color += 16
	color = color << 16
	color |= 1 << 14
	return color
}

var _ LogContext = (*ChainContext)(nil)

// ChainContext is the ephemeral state of one packet's traversal: the
// current packet bytes, the position in the chain and the identity of the
// client that sent it. One is created per Process call and never shared
// across calls.
type ChainContext struct {
	ctx      context.Context
	initTime time.Time
	id       uint32
	color    aurora.Color
	//
	listener string
	clientIP netip.Addr
	//
	packet   []byte
	position int
	//
	metadata map[string]string
}

func NewChainContext(ctx context.Context, listener string, clientIP netip.Addr, packet []byte) *ChainContext {
	return &ChainContext{
		ctx:      ctx,
		initTime: time.Now(),
		id:       randomID(),
		listener: listener,
		clientIP: clientIP,
		packet:   packet,
		position: -1,
	}
}

func (c *ChainContext) ID() uint32 {
	return c.id
}

func (c *ChainContext) Color() aurora.Color {
	if c.color == 0 {
		c.color = idToColor(c.id)
	}
	return c.color
}

func (c *ChainContext) Duration() time.Duration {
	return time.Since(c.initTime)
}

func (c *ChainContext) Context() context.Context {
	return c.ctx
}

func (c *ChainContext) Listener() string {
	return c.listener
}

func (c *ChainContext) ClientIP() netip.Addr {
	return c.clientIP
}

func (c *ChainContext) Packet() []byte {
	return c.packet
}

func (c *ChainContext) SetPacket(packet []byte) {
	c.packet = packet
}

// Position is the chain index of the plugin currently running, or -1
// before the first plugin is invoked.
func (c *ChainContext) Position() int {
	return c.position
}

func (c *ChainContext) SetPosition(position int) {
	c.position = position
}

func (c *ChainContext) Metadata() map[string]string {
	if c.metadata == nil {
		c.metadata = make(map[string]string)
	}
	return c.metadata
}
