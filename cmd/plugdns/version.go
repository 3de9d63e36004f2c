package plugdns

import (
	"fmt"
	"strings"

	"github.com/plugdns/plugdns/constant"
	"github.com/plugdns/plugdns/plugin"
	"github.com/spf13/cobra"
)

var versionCommand = &cobra.Command{
	Use: "version",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("plugdns %s\n", constant.Version)
		fmt.Printf("plugin: %s\n", strings.Join(plugin.Types(), ", "))
	},
}
