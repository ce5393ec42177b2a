package main

import (
	"fmt"
	"os"

	"github.com/tphakala/i2score/cmd"
	"github.com/tphakala/i2score/internal/buildinfo"
	"github.com/tphakala/i2score/internal/conf"
)

// Injected with -ldflags "-X main.version=... -X main.buildDate=...".
var (
	version   = ""
	buildDate = ""
)

func main() {
	settings := &conf.Settings{}
	info := buildinfo.NewContext(version, buildDate, "")

	rootCmd := cmd.RootCommand(settings, info)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
