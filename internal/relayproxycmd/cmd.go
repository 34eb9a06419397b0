// Package relayproxycmd implements the relayproxy command-line front end:
// flag parsing, file loading for the blacklist and credentials, and
// wiring the loaded components into a proxy.Server.
package relayproxycmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/relayfwd/relayproxy/internal/auth"
	"github.com/relayfwd/relayproxy/internal/cache"
	"github.com/relayfwd/relayproxy/internal/filter"
	"github.com/relayfwd/relayproxy/internal/proxylog"
	"github.com/relayfwd/relayproxy/internal/proxymetrics"
	"github.com/relayfwd/relayproxy/proxy"
)

// Main implements the main function of the relayproxy binary. Call this
// from a thin cmd/relayproxy/main.go. A SIGINT/SIGTERM triggers a clean
// shutdown; Main exits 0 in that case and non-zero on fatal bind failure.
func Main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "relayproxy",
		Short:        "A forward HTTP/HTTPS proxy with blacklist, Basic auth, and an LRU response cache",
		SilenceUsage: true,
	}
	root.AddCommand(newRunCommand())
	return root
}

type runFlags struct {
	host           string
	port           int
	blacklist      string
	authFile       string
	cacheEnabled   bool
	cacheSizeBytes int
	cacheTTL       time.Duration
	logDir         string
	timeout        time.Duration
	maxConnections int
	statsInterval  time.Duration
}

func newRunCommand() *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the proxy in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProxy(cmd, flags)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&flags.host, "host", "127.0.0.1", "Listen address")
	fs.IntVar(&flags.port, "port", 8888, "Listen port")
	fs.StringVar(&flags.blacklist, "blacklist", "", "Path to blacklist file")
	fs.StringVar(&flags.authFile, "auth-file", "", "Path to users file for authentication")
	fs.BoolVar(&flags.cacheEnabled, "cache", false, "Enable LRU response caching")
	fs.IntVar(&flags.cacheSizeBytes, "cache-size", 50*1024*1024, "Maximum cache size in bytes")
	fs.DurationVar(&flags.cacheTTL, "cache-ttl", 5*time.Minute, "Cache entry time-to-live")
	fs.StringVar(&flags.logDir, "log-dir", "logs", "Log directory")
	fs.DurationVar(&flags.timeout, "timeout", 30*time.Second, "Connection timeout (head read, dial, relay read)")
	fs.IntVar(&flags.maxConnections, "max-connections", 10000, "Max concurrent connections")
	fs.DurationVar(&flags.statsInterval, "stats-interval", time.Minute, "Interval between periodic stats log lines (0 disables)")

	return cmd
}

func runProxy(cmd *cobra.Command, flags *runFlags) error {
	logger, err := proxylog.New(proxylog.Options{Dir: flags.logDir})
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	defer logger.Close()

	blacklist := filter.New()
	if flags.blacklist != "" {
		f, err := os.Open(flags.blacklist)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: blacklist file not found: %s\n", flags.blacklist)
		} else {
			err = blacklist.Load(f)
			f.Close()
			if err != nil {
				return fmt.Errorf("loading blacklist: %w", err)
			}
		}
	}

	users := auth.New()
	if flags.authFile != "" {
		f, err := os.Open(flags.authFile)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: auth file not found: %s\n", flags.authFile)
		} else {
			err = users.Load(f)
			f.Close()
			if err != nil {
				return fmt.Errorf("loading credentials: %w", err)
			}
			if users.Enabled() {
				fmt.Fprintln(cmd.OutOrStdout(), "[*] Loaded users for authentication")
			}
		}
	}

	var respCache *cache.Cache
	if flags.cacheEnabled {
		respCache = cache.New(flags.cacheSizeBytes, flags.cacheTTL)
		fmt.Fprintln(cmd.OutOrStdout(), "[*] Caching enabled (LRU)")
	}

	metrics := proxymetrics.New(prometheus.DefaultRegisterer)

	server := proxy.NewServer(proxy.Config{
		Filter:         blacklist,
		Auth:           users,
		Cache:          respCache,
		Logger:         logger,
		Metrics:        metrics,
		Timeout:        flags.timeout,
		MaxConnections: flags.maxConnections,
	})

	if flags.statsInterval > 0 {
		go reportStats(cmd, metrics, flags.statsInterval)
	}

	addr := fmt.Sprintf("%s:%d", flags.host, flags.port)
	fmt.Fprintf(cmd.OutOrStdout(), "[*] Proxy server listening on %s\n", addr)
	return server.ListenAndServe(cmd.Context(), addr)
}

func reportStats(cmd *cobra.Command, metrics *proxymetrics.Tracker, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ctx := cmd.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprintf(cmd.OutOrStdout(), "[*] active connections: %d\n", metrics.ActiveConnections())
		}
	}
}
