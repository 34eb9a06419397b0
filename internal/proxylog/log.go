// Package proxylog provides the proxy's three named logging sinks —
// access, error, and debug — each writing JSON-encoded records to its own
// rotating file.
package proxylog

import (
	"path/filepath"

	"github.com/DeRuina/timberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger bundles the three sinks the connection handler calls into at
// well-defined points: parse error, auth fail, blocked, allowed, cache
// hit/miss-stored, server start/stop.
type Logger struct {
	access *zap.Logger
	error  *zap.Logger
	debug  *zap.Logger
}

// Options configures rotation behavior for every sink.
type Options struct {
	Dir        string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func defaultOptions(o Options) Options {
	if o.MaxSizeMB == 0 {
		o.MaxSizeMB = 10
	}
	if o.MaxBackups == 0 {
		o.MaxBackups = 7
	}
	if o.MaxAgeDays == 0 {
		o.MaxAgeDays = 28
	}
	return o
}

// New builds the three sinks under opts.Dir: access.log, error.log, and
// debug.log, each rotated independently.
func New(opts Options) (*Logger, error) {
	opts = defaultOptions(opts)

	access, err := newSink(opts, "access.log", zapcore.InfoLevel)
	if err != nil {
		return nil, err
	}
	errLog, err := newSink(opts, "error.log", zapcore.ErrorLevel)
	if err != nil {
		return nil, err
	}
	debug, err := newSink(opts, "debug.log", zapcore.DebugLevel)
	if err != nil {
		return nil, err
	}

	return &Logger{access: access, error: errLog, debug: debug}, nil
}

func newSink(opts Options, filename string, level zapcore.Level) (*zap.Logger, error) {
	writer := &timberjack.Logger{
		Filename:   filepath.Join(opts.Dir, filename),
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(writer), level)
	return zap.New(core), nil
}

// Close flushes all three sinks. The underlying rotating log files are not
// closed.
func (l *Logger) Close() error {
	_ = l.access.Sync()
	_ = l.error.Sync()
	return l.debug.Sync()
}

// RequestAllowed logs a successfully relayed or tunneled request.
func (l *Logger) RequestAllowed(connID, clientAddr string, clientPort int, targetHost string, targetPort int, requestLine string, status int, bytesSent, bytesReceived int) {
	l.access.Info("ALLOWED",
		zap.String("conn_id", connID),
		zap.String("client_addr", clientAddr),
		zap.Int("client_port", clientPort),
		zap.String("target_host", targetHost),
		zap.Int("target_port", targetPort),
		zap.String("request_line", requestLine),
		zap.Int("status", status),
		zap.Int("bytes_sent", bytesSent),
		zap.Int("bytes_received", bytesReceived),
	)
}

// RequestBlocked logs a denied request (blacklist or authentication).
func (l *Logger) RequestBlocked(connID, clientAddr string, clientPort int, targetHost, requestLine, reason string) {
	l.access.Info("BLOCKED",
		zap.String("conn_id", connID),
		zap.String("client_addr", clientAddr),
		zap.Int("client_port", clientPort),
		zap.String("target_host", targetHost),
		zap.String("request_line", requestLine),
		zap.String("reason", reason),
	)
}

// Error logs an operational error: parse timeouts, dial failures, and
// mid-relay I/O errors.
func (l *Logger) Error(errType, clientAddr, targetHost, details string) {
	l.error.Error(errType,
		zap.String("client_addr", clientAddr),
		zap.String("target_host", targetHost),
		zap.String("details", details),
	)
}

// Debug logs a low-level event such as a cache hit or miss-store.
func (l *Logger) Debug(event string, fields ...zap.Field) {
	l.debug.Debug(event, fields...)
}

// ServerStart logs the listener coming up.
func (l *Logger) ServerStart(host string, port int) {
	l.access.Info("SERVER_START", zap.String("host", host), zap.Int("port", port))
}

// ServerStop logs a clean shutdown.
func (l *Logger) ServerStop() {
	l.access.Info("SERVER_STOP")
}
