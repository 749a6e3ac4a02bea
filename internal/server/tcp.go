package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/skypro1111/voice-satellite/internal/config"
)

// Attacher takes ownership of an accepted hub connection
type Attacher interface {
	Attach(conn net.Conn)
}

// TCPServer accepts hub connections on the native API port
type TCPServer struct {
	listener net.Listener
	config   *config.ServerConfig
	logger   *slog.Logger
	attacher Attacher

	// Concurrency management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	accepted     uint64
	acceptErrors uint64
	lastAccepted time.Time
	mu           sync.RWMutex
}

// TCPStatistics represents listener statistics
type TCPStatistics struct {
	Address      string    `json:"address"`
	Accepted     uint64    `json:"accepted"`
	AcceptErrors uint64    `json:"accept_errors"`
	LastAccepted time.Time `json:"last_accepted,omitempty"`
}

// NewTCPServer creates a new API listener instance
func NewTCPServer(cfg *config.ServerConfig, logger *slog.Logger, attacher Attacher) *TCPServer {
	ctx, cancel := context.WithCancel(context.Background())

	return &TCPServer{
		config:   cfg,
		logger:   logger,
		attacher: attacher,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins accepting hub connections
func (s *TCPServer) Start() error {
	addr := net.JoinHostPort(s.config.Host, fmt.Sprintf("%d", s.config.Port))

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	s.logger.Info("API server started", slog.String("address", listener.Addr().String()))

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Addr returns the bound listener address, or nil before Start
func (s *TCPServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and waits for the accept loop to exit.
// Attached connections are owned by the satellite and closed by it.
func (s *TCPServer) Stop() error {
	s.logger.Info("Stopping API server...")
	s.cancel()

	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Warn("Error closing API listener", slog.String("error", err.Error()))
		}
	}
	s.wg.Wait()

	stats := s.GetStatistics()
	s.logger.Info("API server stopped",
		slog.Uint64("accepted", stats.Accepted),
		slog.Uint64("accept_errors", stats.AcceptErrors))
	return nil
}

func (s *TCPServer) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}

			if errors.Is(err, net.ErrClosed) {
				return
			}

			s.mu.Lock()
			s.acceptErrors++
			s.mu.Unlock()

			s.logger.Error("Failed to accept connection", slog.String("error", err.Error()))
			time.Sleep(100 * time.Millisecond)
			continue
		}

		if tcp, ok := conn.(*net.TCPConn); ok {
			if err := tcp.SetNoDelay(true); err != nil {
				s.logger.Debug("Failed to set TCP_NODELAY", slog.String("error", err.Error()))
			}
		}

		s.mu.Lock()
		s.accepted++
		s.lastAccepted = time.Now()
		s.mu.Unlock()

		s.logger.Debug("Accepted hub connection", slog.String("remote_addr", conn.RemoteAddr().String()))
		s.attacher.Attach(conn)
	}
}

// GetStatistics returns current listener statistics
func (s *TCPServer) GetStatistics() TCPStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := TCPStatistics{
		Accepted:     s.accepted,
		AcceptErrors: s.acceptErrors,
		LastAccepted: s.lastAccepted,
	}
	if s.listener != nil {
		stats.Address = s.listener.Addr().String()
	}
	return stats
}
