// Command roichat serves the slide viewer API and its ROI and chat tooling.
package main

import (
	"context"
	"os"
	"syscall"

	"github.com/charmbracelet/fang"
	"github.com/wanglab/roichat/cmd"
)

// overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Ctrl+C and SIGTERM both cancel the root context
	if err := fang.Execute(
		context.Background(),
		cmd.NewRootCmd(),
		fang.WithVersion(version),
		fang.WithNotifySignal(os.Interrupt, syscall.SIGTERM),
	); err != nil {
		os.Exit(1)
	}
}
