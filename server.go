package jerry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/jirevwe/jerry/pool"
)

// requestBufferSize bounds the single read made on every connection.
const requestBufferSize = 1024

// Server accepts TCP connections and answers each one on the worker pool.
type Server struct {
	cfg    *Config
	mux    *Mux
	pool   *pool.Pool
	logger *slog.Logger
}

// NewServer builds the pool described by cfg. observer may be nil.
func NewServer(cfg *Config, mux *Mux, logger *slog.Logger, observer pool.Observer) (*Server, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if mux == nil {
		pages, err := LoadPages(cfg.TemplatesDir)
		if err != nil {
			return nil, err
		}
		mux = NewPageMux(pages)
	}

	opts, err := cfg.PoolOptions()
	if err != nil {
		return nil, err
	}
	opts = append(opts, pool.WithLogger(logger), pool.WithObserver(observer))

	workerPool, err := pool.New(cfg.Workers, opts...)
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:    cfg,
		mux:    mux,
		pool:   workerPool,
		logger: logger,
	}, nil
}

// ListenAndServe listens on the configured address and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		s.pool.Dispose()
		return err
	}

	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done or accepting fails, then
// closes ln and disposes the pool, which answers every accepted connection
// before Serve returns.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer s.pool.Dispose()

	stop := make(chan struct{})
	defer close(stop)

	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		_ = ln.Close()
	}()

	s.logger.Info(fmt.Sprintf("listening on %s", ln.Addr()))

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info("shutting down")
				return nil
			}

			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.logger.Warn(fmt.Sprintf("accept: %v", err))
				continue
			}

			return err
		}

		err = s.pool.Submit(func() {
			s.handleConnection(ctx, conn)
		})
		if err != nil {
			s.logger.Error(fmt.Sprintf("submitting connection from %s: %v", conn.RemoteAddr(), err))
			_ = conn.Close()
		}
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if s.cfg.ReadTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.cfg.ReadTimeout))
	}

	buffer := make([]byte, requestBufferSize)
	n, err := conn.Read(buffer)
	if err != nil && !errors.Is(err, io.EOF) {
		s.logger.Warn(fmt.Sprintf("reading from %s: %v", conn.RemoteAddr(), err))
		return
	}

	resp := s.mux.Respond(ctx, &Request{Raw: buffer[:n], RemoteAddr: conn.RemoteAddr().String()})

	if _, err := conn.Write(resp.Bytes()); err != nil {
		s.logger.Warn(fmt.Sprintf("writing to %s: %v", conn.RemoteAddr(), err))
	}
}

// Pool returns the worker pool answering connections.
func (s *Server) Pool() *pool.Pool {
	return s.pool
}
