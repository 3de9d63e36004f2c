package plugdns

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/plugdns/plugdns/constant"
	"github.com/plugdns/plugdns/core"
	"github.com/plugdns/plugdns/log"
	"github.com/plugdns/plugdns/plugin"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var MainCommand = &cobra.Command{
	Use: "plugdns",
	Run: func(_ *cobra.Command, _ []string) {
		code := run()
		if code != 0 {
			os.Exit(code)
		}
	},
}

var configPath string

func init() {
	MainCommand.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "config file path")
	MainCommand.AddCommand(versionCommand)
}

func run() int {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		log.DefaultLogger.Errorf("read config file failed: %s, error: %s", configPath, err)
		return 1
	}
	var options core.Options
	err = yaml.Unmarshal(raw, &options)
	if err != nil {
		log.DefaultLogger.Errorf("parse config file failed: %s, error: %s", configPath, err)
		return 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, coreLogger, err := core.NewCore(ctx, options)
	if err != nil {
		log.DefaultLogger.Error(err)
		return 1
	}
	coreLogger.Infof("plugdns %s", constant.Version)
	coreLogger.Infof("plugin: %s", strings.Join(plugin.Types(), ", "))
	go signalHandle(cancel, coreLogger)
	err = c.Run()
	if err != nil {
		return 1
	}
	return 0
}

func signalHandle(cancel context.CancelFunc, logger log.Logger) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, os.Interrupt)
	<-signalChan
	logger.Warn("receive signal, exiting...")
	cancel()
}
