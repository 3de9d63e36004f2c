package adapter

import "context"

// Chain is an ordered sequence of plugin instances a packet traverses.
// Ordering is fixed by configuration at load time.
type Chain interface {
	Tag() string
	// Check resolves plugin tags and validates each instance's config.
	// Instances failing validation are excluded from the active chain.
	Check() error
	// Process runs the packet through the chain starting at plugin 0.
	Process(ctx context.Context, packet []byte) ([]byte, error)
	// Exec is Process with a caller-built ChainContext, used by listeners
	// that already know the client identity.
	Exec(ctx context.Context, chainCtx *ChainContext) ([]byte, error)
	PluginTags() []string
}
