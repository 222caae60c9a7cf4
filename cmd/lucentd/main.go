// main.go — Entry point for lucentd: loads configuration, wires the
// storage/security/metrics collaborators, and runs the TCP accept loop
// that hands each connection to the protocol dispatcher.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lucentgraph/lucent/internal/config"
	"github.com/lucentgraph/lucent/internal/dispatcher"
	"github.com/lucentgraph/lucent/internal/logging"
	"github.com/lucentgraph/lucent/internal/metrics"
	"github.com/lucentgraph/lucent/internal/storage"
	"github.com/lucentgraph/lucent/internal/util"
	"github.com/lucentgraph/lucent/internal/wire"
)

// version is set at build time via -ldflags.
var version = "0.1.0"

func main() {
	listenAddr := flag.String("listen", "", "override the configured listen address (host:port)")
	metricsAddr := flag.String("metrics", "", "override the configured metrics address (host:port)")
	logLevel := flag.String("log-level", "", "override the configured log level")
	logFormat := flag.String("log-format", "", "override the configured log format (console|json)")
	cacheSize := flag.Int("cache-size", 0, "override the configured record cache size")
	commandTimeoutMax := flag.Duration("command-timeout-max", 0, "override the configured maximum command timeout")
	repairOnEmptyRoles := flag.Bool("repair-admin", false, "reinstall the default admin user when a DB_OPEN caller has no roles")
	projectDir := flag.String("project-dir", ".", "directory to look for .lucent.yaml in")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("lucentd", version)
		return
	}

	flags := &config.FlagOverrides{}
	if *listenAddr != "" {
		flags.ListenAddr = listenAddr
	}
	if *metricsAddr != "" {
		flags.MetricsAddr = metricsAddr
	}
	if *logLevel != "" {
		flags.LogLevel = logLevel
	}
	if *logFormat != "" {
		flags.LogFormat = logFormat
	}
	if *cacheSize > 0 {
		flags.CacheSize = cacheSize
	}
	if *commandTimeoutMax > 0 {
		flags.CommandTimeoutMax = commandTimeoutMax
	}

	cfg, err := config.Load(*projectDir, flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, "lucentd: config:", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.Watch(ctx, *projectDir, flags, func(reloaded config.Config) {
		cfg = reloaded
		log.Info().Str("listen_addr", cfg.ListenAddr).Msg("configuration reloaded")
	}); err != nil {
		log.Warn().Err(err).Msg("config watch failed to start; continuing without live reload")
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	users := newUserStore()
	d := dispatcher.New(log, m, openMemStorage, users.lookup, cfg.CacheSize, true)
	d.RepairOnEmptyRoles = *repairOnEmptyRoles
	d.CommandTimeoutMax = cfg.CommandTimeoutMax

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
	util.SafeGo(func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	})

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("listen failed")
	}
	log.Info().Str("addr", cfg.ListenAddr).Int("protocol_version", cfg.ProtocolVersion).Msg("lucentd listening")

	util.SafeGo(func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		_ = listener.Close()
		_ = metricsServer.Shutdown(context.Background())
	})

	for {
		netConn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("accept failed")
			continue
		}
		protocolVersion := cfg.ProtocolVersion
		util.SafeGo(func() {
			handleConnection(d, log, netConn, protocolVersion)
		})
	}
}

// openMemStorage opens the in-process reference storage collaborator.
// A persistent deployment would swap this factory for one backed by a
// durable store; the dispatcher only depends on the storage.Storage
// interface.
func openMemStorage(string) (storage.Storage, error) {
	return storage.NewMemStore(wire.DefaultPositionWidth), nil
}

// handleConnection services requests on one accepted connection until a
// request handler signals the connection must close or the peer hangs
// up, mirroring the per-connection goroutine model SafeGo protects.
func handleConnection(d *dispatcher.Dispatcher, log zerolog.Logger, netConn net.Conn, protocolVersion int) {
	defer netConn.Close()
	conn := wire.NewConn(netConn, wire.DefaultPositionWidth)
	for {
		if err := d.HandleOne(conn, protocolVersion); err != nil {
			log.Debug().Err(err).Str("remote", netConn.RemoteAddr().String()).Msg("connection closed")
			return
		}
	}
}
