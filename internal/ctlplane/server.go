package ctlplane

import (
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"os"
	"path/filepath"
	"sync"
	"time"

	"grimm.is/turnstile/internal/logging"
)

// Server is the control plane RPC server.
type Server struct {
	rpc      *rpc.Server
	logger   *logging.Logger
	listener net.Listener
	path     string
	wg       sync.WaitGroup
	mu       sync.Mutex
}

// NewServer registers ctl's RPC methods. timeout bounds each call; zero
// means DefaultTimeout.
func NewServer(ctl Controller, timeout time.Duration, logger *logging.Logger) (*Server, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	s := &Server{
		rpc:    rpc.NewServer(),
		logger: logging.OrDefault(logger, "ctlplane"),
	}
	if err := s.rpc.RegisterName(ServiceName, &Service{ctl: ctl, timeout: timeout}); err != nil {
		return nil, fmt.Errorf("failed to register RPC service: %w", err)
	}
	return s, nil
}

// Start listens on the Unix socket at path. The socket is created mode
// 0660 so only root and the socket's group can grant access.
func (s *Server) Start(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	// Remove a stale socket from a previous run
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove stale socket %s: %w", path, err)
	}

	listener, err := listenUnix(path, 0o117)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", path, err)
	}
	s.path = path
	return s.StartWithListener(listener)
}

// StartWithListener serves RPC connections accepted from listener until
// Stop is called.
func (s *Server) StartWithListener(listener net.Listener) error {
	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		return errors.New("control plane already started")
	}
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("control plane listening", "addr", listener.Addr().String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				if !errors.Is(err, net.ErrClosed) {
					s.logger.Error("accept failed", "error", err)
				}
				return
			}
			go func() {
				defer func() {
					if r := recover(); r != nil {
						s.logger.Error("RPC connection handler panicked", "panic", r)
					}
				}()
				s.rpc.ServeConn(conn)
			}()
		}
	}()
	return nil
}

// Stop closes the listener and removes the socket. Connections already
// accepted finish their current call.
func (s *Server) Stop() error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return nil
	}

	err := l.Close()
	s.wg.Wait()
	if s.path != "" {
		os.Remove(s.path)
	}
	return err
}
