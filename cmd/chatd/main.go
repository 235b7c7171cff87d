package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ledzpl/tcpchat/internal/chat"
	"github.com/ledzpl/tcpchat/internal/config"
	"github.com/ledzpl/tcpchat/internal/gateway"
	"github.com/ledzpl/tcpchat/internal/logging"
	"github.com/ledzpl/tcpchat/pkg/lineserver"
)

func main() {
	configPath := flag.String("config", "", "Path to a TOML config file")
	adminAddr := flag.String("admin", "", "HTTP address for health, metrics and the WebSocket bridge (disabled if empty)")
	flag.Usage = func() {
		out := flag.CommandLine.Output()
		fmt.Fprintf(out, "usage: %s [flags] [<host> <port>]\n", os.Args[0])
		fmt.Fprintln(out, "without them, CHAT_HOST/CHAT_PORT, then the config file, then 0.0.0.0:8080 apply.")
		flag.PrintDefaults()
	}
	flag.Parse()

	logger := logging.New("chatd")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if flag.NArg() >= 2 {
		port, err := strconv.Atoi(flag.Arg(1))
		if err != nil {
			logger.Fatal().Str("port", flag.Arg(1)).Msg("port must be a number")
		}
		cfg.Host, cfg.Port = flag.Arg(0), port
	} else if flag.NArg() != 0 {
		flag.Usage()
		os.Exit(2)
	}
	if *adminAddr != "" {
		cfg.AdminAddr = *adminAddr
	}
	if err := config.Validate(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	server := chat.NewServer(cfg.Addr(), chat.OptionsFromConfig(cfg), logger)
	if _, err := server.Listen(); err != nil {
		logger.Fatal().Err(err).Msg("failed to bind")
	}
	logger.Info().Str("version", chat.Version).Str("addr", cfg.Addr()).Msg("chat server starting")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var admin *http.Server
	if cfg.AdminAddr != "" {
		admin = gateway.New(cfg.AdminAddr, server, logger)
		go func() {
			logger.Info().Str("addr", cfg.AdminAddr).Msg("admin gateway listening")
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("admin gateway stopped")
				cancel()
			}
		}()
	}

	err = server.Serve(ctx)

	if admin != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		_ = admin.Shutdown(shutdownCtx)
		stop()
	}
	server.Shutdown()
	server.Wait()

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, lineserver.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server stopped with error")
	}
	logger.Info().Msg("server stopped")
}
