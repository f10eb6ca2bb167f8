package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/upgradekit/odooup/cli"
	"github.com/upgradekit/odooup/genericclioptions"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	iostreams := genericclioptions.NewDefaultIOStreams()

	cmd := cli.NewDefaultUpgradeCommand(iostreams, os.Args[1:])
	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
