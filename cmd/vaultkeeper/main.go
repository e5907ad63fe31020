package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/awnumar/memguard"
	"github.com/dmitrijs2005/vaultkeeper/internal/cli"
)

func main() {
	// Ctrl-C purges key material and exits, even from a passphrase prompt.
	memguard.CatchInterrupt()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	code := cli.Execute(ctx, os.Args[1:], cli.IO{In: os.Stdin, Out: os.Stdout, Err: os.Stderr})
	stop()

	memguard.Purge()
	os.Exit(code)
}
