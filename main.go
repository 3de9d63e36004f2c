package main

import (
	"os"

	"github.com/plugdns/plugdns/cmd/plugdns"
)

func main() {
	err := plugdns.MainCommand.Execute()
	if err != nil {
		os.Exit(1)
	}
}
