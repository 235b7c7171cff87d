package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/ledzpl/tcpchat/internal/client"
	"github.com/ledzpl/tcpchat/internal/logging"
)

func main() {
	if len(os.Args) < 4 {
		fmt.Fprintf(os.Stderr, "usage: %s <host> <port> <name>\n", os.Args[0])
		os.Exit(1)
	}
	addr := net.JoinHostPort(os.Args[1], os.Args[2])

	logger := logging.New("chat")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c := client.New(addr, os.Args[3], os.Stdin, os.Stdout, logger)
	if err := c.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("chat client failed")
	}
}
