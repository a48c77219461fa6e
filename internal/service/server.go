package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServerConfig selects the listeners. SocketPath is required; ListenAddr
// additionally serves TCP when set.
type ServerConfig struct {
	SocketPath string
	ListenAddr string
}

// Server wraps the gRPC server and its listeners.
type Server struct {
	grpcServer *grpc.Server
	listeners  []net.Listener
	socketPath string
	log        *zap.Logger
}

// NewGRPCServer returns a grpc.Server speaking the JSON codec with logging
// and panic recovery interceptors.
func NewGRPCServer(log *zap.Logger, opts ...grpc.ServerOption) *grpc.Server {
	if log == nil {
		log = zap.NewNop()
	}
	opts = append([]grpc.ServerOption{
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.ChainUnaryInterceptor(recoverInterceptor(log), logInterceptor(log)),
	}, opts...)
	return grpc.NewServer(opts...)
}

// NewServer binds the Unix socket (mode 0600) and the optional TCP address
// and registers svc.
func NewServer(cfg ServerConfig, svc *Service, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.SocketPath == "" {
		return nil, errors.New("socket path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.SocketPath), 0o700); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}
	if err := os.Remove(cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}

	uds, err := net.Listen("unix", cfg.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("listen on unix socket %s: %w", cfg.SocketPath, err)
	}
	if err := os.Chmod(cfg.SocketPath, 0o600); err != nil {
		uds.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	listeners := []net.Listener{uds}

	if cfg.ListenAddr != "" {
		tcp, err := net.Listen("tcp", cfg.ListenAddr)
		if err != nil {
			uds.Close()
			return nil, fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
		}
		listeners = append(listeners, tcp)
	}

	gs := NewGRPCServer(log)
	svc.Register(gs)

	return &Server{
		grpcServer: gs,
		listeners:  listeners,
		socketPath: cfg.SocketPath,
		log:        log,
	}, nil
}

// Addrs returns the bound listener addresses.
func (s *Server) Addrs() []net.Addr {
	out := make([]net.Addr, len(s.listeners))
	for i, l := range s.listeners {
		out[i] = l.Addr()
	}
	return out
}

// Serve accepts connections on every listener. It blocks until the server
// is stopped and returns the first listener error.
func (s *Server) Serve() error {
	var (
		wg   sync.WaitGroup
		once sync.Once
		err  error
	)
	for _, l := range s.listeners {
		wg.Add(1)
		go func(l net.Listener) {
			defer wg.Done()
			s.log.Info("grpc listening", zap.String("addr", l.Addr().String()))
			if serr := s.grpcServer.Serve(l); serr != nil && !errors.Is(serr, grpc.ErrServerStopped) {
				once.Do(func() { err = serr })
				s.grpcServer.Stop()
			}
		}(l)
	}
	wg.Wait()
	return err
}

// GracefulStop drains in-flight RPCs and removes the socket file.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
	os.Remove(s.socketPath)
}

func logInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		log.Debug("rpc",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("elapsed", time.Since(start)))
		return resp, err
	}
}

func recoverInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("rpc panic", zap.String("method", info.FullMethod), zap.Any("panic", r))
				err = status.Errorf(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}
