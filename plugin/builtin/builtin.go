package builtin

import (
	_ "github.com/plugdns/plugdns/plugin/cache"
	_ "github.com/plugdns/plugdns/plugin/forward"
	_ "github.com/plugdns/plugdns/plugin/logger"
	_ "github.com/plugdns/plugdns/plugin/process"
	_ "github.com/plugdns/plugdns/plugin/rewrite"
)

// Do exists so callers have something to import for the side effect of
// registering every built-in plugin type.
func Do() {}
