package proxy

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/relayfwd/relayproxy/internal/httpwire"
)

const relayChunkSize = 4096

// httpRelay dials the upstream, forwards the rewritten request, and
// streams the response back to the client in chunks, capturing it for the
// cache along the way when eligible.
func (c *conn) httpRelay(ctx context.Context, req *httpwire.Request, host string, port int) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var d net.Dialer
	upstream, err := d.DialContext(dialCtx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		dialErr := fmt.Errorf("%w: %s", ErrUpstreamDial, err)
		_, _ = c.nc.Write(httpwire.FormatError(502, "Bad Gateway"))
		c.logError("DIAL_ERROR", dialErr.Error())
		return
	}
	defer upstream.Close()

	if _, err := upstream.Write(httpwire.Format(req)); err != nil {
		c.logError("HTTP_HANDLER_ERROR", err.Error())
		return
	}

	capture := c.cfg.Cache != nil && strings.EqualFold(req.Method, "GET")
	var headerBuf, bodyBuf bytes.Buffer
	headersSplit := false
	totalReceived := 0

	buf := make([]byte, relayChunkSize)
	for {
		_ = upstream.SetReadDeadline(time.Now().Add(c.cfg.Timeout))
		n, err := upstream.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if _, werr := c.nc.Write(chunk); werr != nil {
				c.logError("HTTP_HANDLER_ERROR", werr.Error())
				return
			}
			totalReceived += n

			if capture {
				if !headersSplit {
					combined := append(append([]byte{}, headerBuf.Bytes()...), chunk...)
					if idx := bytes.Index(combined, []byte("\r\n\r\n")); idx >= 0 {
						headerBuf.Reset()
						headerBuf.Write(combined[:idx+4])
						bodyBuf.Write(combined[idx+4:])
						headersSplit = true
					} else {
						headerBuf.Reset()
						headerBuf.Write(combined)
					}
				} else {
					bodyBuf.Write(chunk)
				}
			}
		}
		if err != nil {
			break // upstream EOF or read error: loop terminates either way
		}
	}

	if capture && headersSplit && cacheEligible(headerBuf.Bytes()) {
		c.cfg.Cache.Put(req.Target, 200, headerBuf.Bytes(), bodyBuf.Bytes())
		if c.cfg.Logger != nil {
			c.cfg.Logger.Debug("CACHE_MISS_STORED")
		}
	}

	c.logAllowed(host, port, req.Line(), 200, totalReceived, totalReceived)
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.AllowedRequest(totalReceived, totalReceived)
	}
}

// cacheEligible reports whether a captured response is a cache candidate:
// its status line must be a literal "HTTP/1.x 200", and it must not be
// chunked-transfer-encoded (chunked bodies have no detectable end short of
// connection close, so a cache entry built from one could re-serve
// truncated framing to a later client).
func cacheEligible(header []byte) bool {
	line, _, _ := bytes.Cut(header, []byte("\r\n"))
	if !isStatusLine200(string(line)) {
		return false
	}
	return !bytes.Contains(bytes.ToLower(header), []byte("transfer-encoding: chunked"))
}

func isStatusLine200(line string) bool {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return false
	}
	if !strings.HasPrefix(fields[0], "HTTP/1.") {
		return false
	}
	return fields[1] == "200"
}

// tryCacheServe answers a GET from the cache if present, writing the
// stored bytes directly to the client with no upstream dial. It returns
// true iff it fully handled the request.
func (c *conn) tryCacheServe(req *httpwire.Request, host string, port int) bool {
	entry, ok := c.cfg.Cache.Get(req.Target)
	if !ok {
		return false
	}
	if c.cfg.Logger != nil {
		c.cfg.Logger.Debug("CACHE_HIT")
	}
	if _, err := c.nc.Write(append(append([]byte{}, entry.Header...), entry.Body...)); err != nil {
		c.logError("HTTP_HANDLER_ERROR", err.Error())
		return true
	}
	sent := len(entry.Header) + len(entry.Body)
	c.logAllowed(host, port, req.Line()+" [CACHE]", entry.Status, sent, 0)
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.AllowedRequest(sent, 0)
	}
	return true
}
