// Package proxy implements the connection pipeline: accepting clients,
// parsing their request off the wire, gating it through authentication and
// the blacklist, and either relaying an HTTP request (with optional cache
// interception) or opening a blind CONNECT tunnel.
package proxy

import (
	"context"
	"net"
	"time"

	"github.com/relayfwd/relayproxy/internal/auth"
	"github.com/relayfwd/relayproxy/internal/cache"
	"github.com/relayfwd/relayproxy/internal/filter"
	"github.com/relayfwd/relayproxy/internal/proxylog"
	"github.com/relayfwd/relayproxy/internal/proxymetrics"
)

// Config collects everything a Server needs to run. Filter and Auth are
// read-only after construction and may be shared across many Servers;
// Cache is shared mutable state guarded internally. A nil Cache disables
// caching regardless of request method.
type Config struct {
	Filter  *filter.Blacklist
	Auth    *auth.Table
	Cache   *cache.Cache
	Logger  *proxylog.Logger
	Metrics *proxymetrics.Tracker

	// Timeout bounds the request-head read, the upstream dial, and each
	// individual upstream read during HTTP relay. It does not bound bytes
	// flowing through an established CONNECT tunnel.
	Timeout time.Duration

	// MaxConnections caps concurrently handled client connections; 0
	// means unbounded. A connection accepted over the cap is closed
	// immediately, before any parsing begins. The cap is enforced only when
	// Metrics is set, since the active count is read from it.
	MaxConnections int
}

// Server listens for client connections and runs the per-connection
// pipeline against Config.
type Server struct {
	cfg Config
	ln  net.Listener
}

// NewServer constructs a Server bound to cfg. Call Serve or ListenAndServe
// to start accepting connections.
func NewServer(cfg Config) *Server {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Server{cfg: cfg}
}

// ListenAndServe opens a TCP listener on addr and serves until ctx is
// canceled or a fatal accept error occurs.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections from ln, dispatching each to its own
// goroutine, until ctx is canceled or Accept returns a non-temporary
// error. It closes ln before returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.ln = ln
	defer ln.Close()
	if s.cfg.Logger != nil {
		if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
			s.cfg.Logger.ServerStart(tcpAddr.IP.String(), tcpAddr.Port)
		}
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	defer func() {
		if s.cfg.Logger != nil {
			s.cfg.Logger.ServerStop()
		}
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			var ne net.Error
			if ok := asNetError(err, &ne); ok && ne.Timeout() {
				continue
			}
			return err
		}
		if s.cfg.MaxConnections > 0 && s.cfg.Metrics != nil &&
			s.cfg.Metrics.ActiveConnections() >= int64(s.cfg.MaxConnections) {
			nc.Close()
			continue
		}
		c := newConn(nc, &s.cfg)
		go c.handle(ctx)
	}
}

func asNetError(err error, target *net.Error) bool {
	ne, ok := err.(net.Error)
	if ok {
		*target = ne
	}
	return ok
}

// Addr returns the server's bound address, or nil before Serve is called.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}
