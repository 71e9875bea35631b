// Package server implements the bounded-concurrency UDP datagram pipeline.
//
// One Listener owns one socket (auth or acct). Every datagram is handled in
// its own goroutine gated by a counting semaphore; while the gate is full,
// handlers queue at the permit and the OS socket buffer is the only drop
// point. Decode, backend and encode failures are logged and the datagram is
// discarded — RADIUS has no NAK for malformed traffic.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/radiusd/internal/logger"
	"github.com/marmos91/radiusd/pkg/backend"
	"github.com/marmos91/radiusd/pkg/metrics"
	"github.com/marmos91/radiusd/pkg/packet"
)

// maxDatagramSize is the RFC 2865 maximum packet length.
const maxDatagramSize = 4096

// defaultShutdownTimeout bounds the graceful drain when none is configured.
const defaultShutdownTimeout = 10 * time.Second

// Handler decides the reply for one decoded request.
type Handler interface {
	HandleRequest(ctx context.Context, req packet.Request, host string, port int) backend.Result
}

// ListenerConfig configures one UDP listener.
type ListenerConfig struct {
	// Name tags log lines and metrics ("auth", "acct").
	Name string

	// BindAddress is the IP to bind to; empty binds all interfaces.
	BindAddress string

	// Port is the UDP port. 0 picks an ephemeral port (tests).
	Port int

	// MaxConcurrent caps the number of datagrams being handled at once.
	MaxConcurrent int

	// ShutdownTimeout is the maximum wait for in-flight handlers on stop.
	ShutdownTimeout time.Duration
}

// Listener is the per-socket datagram loop.
//
// All exported methods are safe for concurrent use; shutdown is idempotent.
type Listener struct {
	cfg     ListenerConfig
	handler Handler
	decode  packet.Decoder
	encode  packet.Encoder
	metrics *metrics.ServerMetrics

	connMu sync.RWMutex
	conn   *net.UDPConn

	// inFlight tracks handler goroutines for the graceful drain.
	inFlight  sync.WaitGroup
	taskCount atomic.Int32

	// sem is the concurrency gate; a handler holds one permit while working.
	sem chan struct{}

	shutdownOnce sync.Once
	shutdown     chan struct{}

	// shutdownCtx is cancelled on stop so handlers parked at the permit (or
	// inside the store) exit without sending a reply.
	shutdownCtx    context.Context
	cancelHandlers context.CancelFunc

	// ListenerReady is closed once the socket is bound. Tests use it to
	// synchronize with startup.
	ListenerReady chan struct{}
}

// NewListener creates a stopped listener. Call Serve to bind and run.
func NewListener(cfg ListenerConfig, h Handler, dec packet.Decoder, enc packet.Encoder, m *metrics.ServerMetrics) *Listener {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())

	return &Listener{
		cfg:            cfg,
		handler:        h,
		decode:         dec,
		encode:         enc,
		metrics:        m,
		sem:            make(chan struct{}, cfg.MaxConcurrent),
		shutdown:       make(chan struct{}),
		shutdownCtx:    shutdownCtx,
		cancelHandlers: cancel,
		ListenerReady:  make(chan struct{}),
	}
}

// Serve binds the socket and runs the read loop until shutdown. Bind
// failures are returned immediately and are fatal at startup.
func (l *Listener) Serve(ctx context.Context) error {
	listenAddr := fmt.Sprintf("%s:%d", l.cfg.BindAddress, l.cfg.Port)
	udpAddr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return fmt.Errorf("resolve %s listen address %q: %w", l.cfg.Name, listenAddr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("bind %s listener on %s: %w", l.cfg.Name, listenAddr, err)
	}

	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()
	close(l.ListenerReady)

	logger.Info("RADIUS listener ready",
		"listener", l.cfg.Name,
		logger.KeyListen, conn.LocalAddr().String(),
		"max_concurrent", l.cfg.MaxConcurrent)

	go func() {
		<-ctx.Done()
		l.initiateShutdown()
	}()

	for {
		buf := make([]byte, maxDatagramSize)
		n, raddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-l.shutdown:
				return l.drain()
			default:
				logger.Debug("read error on UDP socket", "listener", l.cfg.Name, logger.KeyError, err.Error())
				continue
			}
		}

		l.inFlight.Add(1)
		l.taskCount.Add(1)
		go l.handleDatagram(buf[:n], raddr)
	}
}

// handleDatagram runs the per-datagram pipeline: permit, decode, backend,
// encode, send. Each stage logs and discards on failure.
func (l *Listener) handleDatagram(data []byte, raddr *net.UDPAddr) {
	defer func() {
		l.inFlight.Done()
		l.taskCount.Add(-1)
	}()

	select {
	case l.sem <- struct{}{}:
		defer func() { <-l.sem }()
	case <-l.shutdown:
		return
	}

	lc := logger.NewLogContext(raddr.IP.String(), raddr.Port)
	ctx := logger.WithContext(l.shutdownCtx, lc)

	req, err := l.decode(data)
	if err != nil {
		logger.WarnCtx(ctx, "failed to decode datagram",
			"listener", l.cfg.Name, logger.KeyError, err.Error())
		l.metrics.ObservePacket(l.cfg.Name, 0, metrics.OutcomeDecodeError, time.Since(lc.StartTime))
		return
	}

	lc = lc.WithPacket(req.Code(), req.ID())
	ctx = logger.WithContext(ctx, lc)

	result := l.handler.HandleRequest(ctx, req, raddr.IP.String(), raddr.Port)
	if !result.HasReply() {
		logger.DebugCtx(ctx, "no reply for request", "listener", l.cfg.Name)
		l.metrics.ObservePacket(l.cfg.Name, req.Code(), metrics.OutcomeSilent, time.Since(lc.StartTime))
		return
	}

	payload, err := l.encode(result.ReplyCode, result.ReplyAttributes, req)
	if err != nil {
		logger.WarnCtx(ctx, "failed to encode reply",
			"listener", l.cfg.Name, logger.KeyError, err.Error())
		l.metrics.ObservePacket(l.cfg.Name, req.Code(), metrics.OutcomeEncodeError, time.Since(lc.StartTime))
		return
	}

	l.connMu.RLock()
	conn := l.conn
	l.connMu.RUnlock()

	if _, err := conn.WriteToUDP(payload, raddr); err != nil {
		logger.WarnCtx(ctx, "failed to send reply",
			"listener", l.cfg.Name, logger.KeyError, err.Error())
		l.metrics.ObservePacket(l.cfg.Name, req.Code(), metrics.OutcomeSendError, time.Since(lc.StartTime))
		return
	}

	logger.DebugCtx(ctx, "reply sent",
		"listener", l.cfg.Name,
		"reply_code", result.ReplyCode,
		logger.KeyToken, result.DialogToken,
		logger.KeyDurationMs, lc.DurationMs())
	l.metrics.ObservePacket(l.cfg.Name, req.Code(), metrics.OutcomeReplied, time.Since(lc.StartTime))
}

// initiateShutdown closes the socket and cancels in-flight handlers. Safe to
// call multiple times.
func (l *Listener) initiateShutdown() {
	l.shutdownOnce.Do(func() {
		logger.Debug("listener shutdown initiated", "listener", l.cfg.Name)
		close(l.shutdown)

		l.connMu.Lock()
		if l.conn != nil {
			if err := l.conn.Close(); err != nil {
				logger.Debug("error closing UDP socket", "listener", l.cfg.Name, logger.KeyError, err.Error())
			}
		}
		l.connMu.Unlock()

		l.cancelHandlers()
	})
}

// drain waits for in-flight handlers after the socket is closed.
func (l *Listener) drain() error {
	active := l.taskCount.Load()
	logger.Info("listener draining in-flight handlers",
		"listener", l.cfg.Name, "active", active, "timeout", l.cfg.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		l.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("listener shutdown complete", "listener", l.cfg.Name)
		return nil
	case <-time.After(l.cfg.ShutdownTimeout):
		remaining := l.taskCount.Load()
		logger.Warn("listener shutdown timeout exceeded",
			"listener", l.cfg.Name, "active", remaining)
		return fmt.Errorf("%s listener shutdown timeout: %d handlers still active", l.cfg.Name, remaining)
	}
}

// Stop initiates shutdown and waits for the drain. Idempotent; a second
// call returns once the first drain finished.
func (l *Listener) Stop(ctx context.Context) error {
	l.initiateShutdown()

	done := make(chan struct{})
	go func() {
		l.inFlight.Wait()
		close(done)
	}()

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Addr returns the bound address. Blocks until the listener is ready,
// making it safe for tests that bind port 0.
func (l *Listener) Addr() string {
	<-l.ListenerReady

	l.connMu.RLock()
	defer l.connMu.RUnlock()
	if l.conn == nil {
		return ""
	}
	return l.conn.LocalAddr().String()
}

// ActiveHandlers returns the number of in-flight datagram handlers.
func (l *Listener) ActiveHandlers() int32 {
	return l.taskCount.Load()
}
