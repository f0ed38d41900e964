package main

import (
	"context"
	"flag"
	"log/slog"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"github.com/prxssh/mdht/internal/config"
	"github.com/prxssh/mdht/internal/dht"
	"github.com/prxssh/mdht/pkg/utils/logging"
)

func main() {
	setupLogger()
	config.Init()

	var (
		listenAddr    = flag.String("listen", config.Load().ListenAddr, "UDP address to bind this node's socket to")
		confPath      = flag.String("bootstrap-file", config.Load().BootstrapConfPath, "path to the bootstrap-nodes snapshot")
		privateName   = flag.String("private-name", "", "private-overlay name qualifier (empty joins the mainline overlay)")
		bootstrapMode = flag.Bool("bootstrap-mode", false, "run as a well-known bootstrap node")
		verbose       = flag.Bool("verbose", false, "enable debug logging")
	)
	flag.Parse()

	if *verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	addr, err := netip.ParseAddrPort(*listenAddr)
	if err != nil {
		slog.Error("invalid listen address", "addr", *listenAddr, "error", err)
		os.Exit(1)
	}

	controller := dht.NewController(dht.Config{
		VersionLabel:   config.Load().VersionLabel,
		LocalAddr:      addr,
		ConfPath:       *confPath,
		PrivateDHTName: *privateName,
		BootstrapMode:  *bootstrapMode,
		Logger:         slog.Default(),
	})

	reactor, err := dht.NewReactor(addr, controller, slog.Default())
	if err != nil {
		slog.Error("failed to bind udp socket", "addr", addr, "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("dht node listening", "addr", reactor.LocalAddr(), "id", controller.LocalID())

	errCh := make(chan error, 1)
	go func() { errCh <- reactor.Run(ctx) }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			slog.Error("reactor stopped unexpectedly", "error", err)
		}
	}

	reactor.Stop()
	controller.OnStop()
	slog.Info("shutdown complete")
}

func setupLogger() {
	opts := logging.DefaultOptions()
	opts.SlogOpts.Level = slog.LevelInfo
	opts.SlogOpts.AddSource = false

	h := logging.NewPrettyHandler(os.Stdout, &opts)
	l := slog.New(h)
	slog.SetDefault(l)
}
