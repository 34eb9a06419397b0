package proxy

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
)

const tunnelChunkSize = 4096

// connectTunnel dials the target and, on success, establishes an opaque
// bidirectional relay between the client and upstream. It ends only once
// both copy loops have terminated — closing either socket causes the
// other loop's next read or write to fail, tearing the rest down.
func (c *conn) connectTunnel(ctx context.Context, host string, port int, requestLine string) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var d net.Dialer
	upstream, err := d.DialContext(dialCtx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		dialErr := fmt.Errorf("%w: %s", ErrUpstreamDial, err)
		_, _ = c.nc.Write([]byte("HTTP/1.1 502 Bad Gateway\r\n\r\n"))
		c.logError("CONNECT_HANDLER_ERROR", dialErr.Error())
		return
	}
	defer upstream.Close()

	if _, err := c.nc.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		c.logError("CONNECT_HANDLER_ERROR", err.Error())
		return
	}

	var g errgroup.Group
	g.Go(func() error { // client -> upstream
		defer upstream.Close() // unblocks the upstream -> client loop's read
		return copyLoop(upstream, c.nc)
	})
	g.Go(func() error { // upstream -> client
		defer func() { _ = c.nc.SetReadDeadline(time.Now()) }() // unblocks the client -> upstream loop's read
		return copyLoop(c.nc, upstream)
	})
	if err := g.Wait(); err != nil { // errors are swallowed and logged; no retry
		c.logError("CONNECT_HANDLER_ERROR", err.Error())
	}

	c.logAllowed(host, port, requestLine, 200, 0, 0)
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.AllowedRequest(0, 0)
	}
}

// copyLoop reads chunks from src and writes them to dst until EOF or
// error. No timeout applies to tunnel bytes; only the initial dial above
// is timed.
func copyLoop(dst, src net.Conn) error {
	buf := make([]byte, tunnelChunkSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			return nil // EOF or read error ends this side's loop silently
		}
	}
}
