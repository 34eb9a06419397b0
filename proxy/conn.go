package proxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relayfwd/relayproxy/internal/httpwire"
)

// conn is the per-client state machine: ACCEPTED -> PARSING -> AUTH ->
// FILTER -> DISPATCH -> {HTTP_RELAY | CONNECT_TUNNEL | CACHE_SERVE} -> DONE.
// It owns nc exclusively and guarantees nc is closed exactly once.
type conn struct {
	nc  net.Conn
	cfg *Config
	id  string

	clientIP   string
	clientPort int
}

func newConn(nc net.Conn, cfg *Config) *conn {
	ip, port := splitRemoteAddr(nc.RemoteAddr())
	return &conn{
		nc:         nc,
		cfg:        cfg,
		id:         uuid.NewString(),
		clientIP:   ip,
		clientPort: port,
	}
}

func splitRemoteAddr(addr net.Addr) (string, int) {
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}

func (c *conn) handle(ctx context.Context) {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.ConnectionStart()
		defer c.cfg.Metrics.ConnectionEnd()
	}
	defer c.nc.Close()

	req, err := c.gate()
	if err != nil {
		c.rejectGate(req, err)
		return
	}

	targetPort := req.Port()

	// DISPATCH
	switch {
	case strings.EqualFold(req.Method, "CONNECT"):
		c.connectTunnel(ctx, req.Hostname(), targetPort, req.Line())
	case strings.EqualFold(req.Method, "GET") && c.cfg.Cache != nil && c.tryCacheServe(req, req.Hostname(), targetPort):
		// handled entirely by tryCacheServe
	default:
		c.httpRelay(ctx, req, req.Hostname(), targetPort)
	}
}

// gate runs a connection through PARSING -> AUTH -> FILTER, the three
// gates every request must clear before dispatch. Each failure is a
// wrapped sentinel the caller inspects with errors.Is to pick the wire
// response and log line; gate itself writes nothing to the client.
func (c *conn) gate() (*httpwire.Request, error) {
	_ = c.nc.SetReadDeadline(time.Now().Add(c.cfg.Timeout))
	req, err := httpwire.Parse(bufio.NewReader(c.nc))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrParseFailed, err)
	}
	_ = c.nc.SetReadDeadline(time.Time{})

	if c.cfg.Auth != nil && !c.cfg.Auth.Validate(req.Header("Proxy-Authorization")) {
		return req, fmt.Errorf("%w: %s", ErrUnauthorized, req.Line())
	}

	hostname := req.Hostname()
	if hostname == "" {
		return req, ErrNoHostname
	}

	if c.cfg.Filter != nil {
		if blocked, reason := c.cfg.Filter.IsBlocked(hostname); blocked {
			return req, &blockedError{host: hostname, requestLine: req.Line(), reason: reason}
		}
	}

	return req, nil
}

// rejectGate writes the wire response for a gate failure and logs it.
// req is nil only when a parse failure left no request to report on.
func (c *conn) rejectGate(req *httpwire.Request, err error) {
	switch {
	case errors.Is(err, ErrParseFailed):
		c.logError("PARSE_ERROR", err.Error())
		// silent close: the client never sent a well-formed request to reply to
	case errors.Is(err, ErrUnauthorized):
		_, _ = c.nc.Write(httpwire.FormatAuthChallenge())
		c.logBlocked("AUTH", req.Line(), "Authentication Failed")
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.BlockedRequest()
		}
	case errors.Is(err, ErrNoHostname):
		// silent close: no resolvable target to dial or tunnel to
	case errors.Is(err, ErrBlocked):
		var be *blockedError
		errors.As(err, &be)
		_, _ = c.nc.Write(httpwire.FormatError(403, "Forbidden"))
		c.logBlocked(be.host, be.requestLine, be.reason)
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.BlockedRequest()
		}
	}
}

func (c *conn) logBlocked(targetHost, requestLine, reason string) {
	if c.cfg.Logger == nil {
		return
	}
	c.cfg.Logger.RequestBlocked(c.id, c.clientIP, c.clientPort, targetHost, requestLine, reason)
}

func (c *conn) logError(errType, details string) {
	if c.cfg.Logger == nil {
		return
	}
	c.cfg.Logger.Error(errType, c.clientIP, "", details)
}

func (c *conn) logAllowed(targetHost string, targetPort int, requestLine string, status, sent, received int) {
	if c.cfg.Logger == nil {
		return
	}
	c.cfg.Logger.RequestAllowed(c.id, c.clientIP, c.clientPort, targetHost, targetPort, requestLine, status, sent, received)
}
