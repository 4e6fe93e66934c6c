package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/fairvm/go-fairvm/src/config"
	"github.com/fairvm/go-fairvm/src/core"
	"github.com/fairvm/go-fairvm/src/executor"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the full gRPC service name
const ServiceName = "fairvm.Execution"

const (
	cleanupInterval = time.Minute
	idlePeerTimeout = 10 * time.Minute
)

var (
	requestCounter = metrics.NewRegisteredCounter("fairvm/rpc/requests", nil)
	limitedCounter = metrics.NewRegisteredCounter("fairvm/rpc/limited", nil)
	requestTimer   = metrics.NewRegisteredTimer("fairvm/rpc/duration", nil)
)

// ExecutionServer is the server API of the execution service
type ExecutionServer interface {
	Execute(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Call(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Deploy(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(ExecutionServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func methodDesc(name string, call unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ExecutionServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(ExecutionServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var executionServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ExecutionServer)(nil),
	Methods: []grpc.MethodDesc{
		methodDesc("Execute", ExecutionServer.Execute),
		methodDesc("Call", ExecutionServer.Call),
		methodDesc("Deploy", ExecutionServer.Deploy),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fairvm/execution",
}

// RegisterExecutionServer registers srv on s
func RegisterExecutionServer(s grpc.ServiceRegistrar, srv ExecutionServer) {
	s.RegisterService(&executionServiceDesc, srv)
}

// Server serves an EVM over gRPC
type Server struct {
	evm     *executor.EVM
	cfg     *config.Config
	limiter *RateLimiter
	logger  log.Logger
	server  *grpc.Server

	mu       sync.Mutex
	listener net.Listener
	quit     chan struct{}
	stopOnce sync.Once
}

// NewServer creates a server for evm. TLS and rate limiting follow cfg.RPC.
func NewServer(evm *executor.EVM, cfg *config.Config, logger log.Logger) (*Server, error) {
	if logger == nil {
		logger = log.Root()
	}
	s := &Server{
		evm:     evm,
		cfg:     cfg,
		limiter: NewRateLimiter(cfg.RPC.RateLimit),
		logger:  logger,
		quit:    make(chan struct{}),
	}

	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(s.logRequests, s.limiter.UnaryInterceptor()),
	}
	if cfg.RPC.TLS.Enabled {
		tlsConfig, err := NewTLSManager(cfg.RPC.TLS.CertFile, cfg.RPC.TLS.KeyFile).
			LoadOrGenerateTLS([]string{cfg.RPC.Host}, cfg.RPC.TLS.AutoGenerate)
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsConfig)))
	}

	s.server = grpc.NewServer(opts...)
	RegisterExecutionServer(s.server, s)
	return s, nil
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	addr := s.cfg.GetServerAddress()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	go func() {
		if err := s.Serve(listener); err != nil {
			s.logger.Error("Execution service stopped", "err", err)
		}
	}()
	return nil
}

// Serve accepts connections on listener until Stop is called
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	select {
	case <-s.quit:
		s.mu.Unlock()
		return ErrServerStopped
	default:
	}
	if s.listener != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: already serving on %s", ErrServerStopped, s.listener.Addr())
	}
	s.listener = listener
	s.mu.Unlock()

	go s.cleanupLoop()
	s.logger.Info("Execution service started", "addr", listener.Addr(), "tls", s.cfg.RPC.TLS.Enabled)
	return s.server.Serve(listener)
}

// Addr returns the listening address, or nil before Serve
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop drains in-flight requests and stops the server
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
		s.server.GracefulStop()
		s.logger.Info("Execution service stopped")
	})
}

func (s *Server) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.limiter.Cleanup(idlePeerTimeout)
		case <-s.quit:
			return
		}
	}
}

// Execute runs the request's code at its address
func (s *Server) Execute(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := parseExecuteRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	result := s.evm.Execute(s.executionContext(req), req.Code, executor.WithInterrupt(ctx.Done()))
	return s.reply(ctx, result, core.Address{})
}

// Call runs the code stored at the request's address
func (s *Server) Call(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := parseExecuteRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	result := s.evm.Call(s.executionContext(req), executor.WithInterrupt(ctx.Done()))
	return s.reply(ctx, result, core.Address{})
}

// Deploy creates a contract from the request's init code
func (s *Server) Deploy(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := parseDeployRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.Creator.IsEmpty() {
		return nil, status.Error(codes.InvalidArgument, "creator is required")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	addr, result, err := s.evm.Deploy(req.Creator, req.Code, req.Value, s.gasLimit(req.GasLimit), req.GasPrice,
		executor.WithInterrupt(ctx.Done()))
	if err != nil && (result == nil || result.Success) {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return s.reply(ctx, result, addr)
}

// withTimeout bounds a request by the configured deadline. Runs are
// interrupted when the returned context ends.
func (s *Server) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if timeout := s.cfg.RPC.Timeout.Std(); timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

func (s *Server) executionContext(req *ExecuteRequest) *executor.ExecutionContext {
	return &executor.ExecutionContext{
		Caller:   req.Caller,
		Address:  req.Address,
		Value:    req.Value,
		Input:    req.Input,
		GasLimit: s.gasLimit(req.GasLimit),
		GasPrice: req.GasPrice,
		IsStatic: req.Static,
	}
}

// gasLimit applies the configured limit to requests that send none, and
// caps requests that ask for more
func (s *Server) gasLimit(requested uint64) uint64 {
	if requested == 0 || requested > s.cfg.VM.GasLimit {
		return s.cfg.VM.GasLimit
	}
	return requested
}

func (s *Server) reply(ctx context.Context, result *executor.ExecutionResult, addr core.Address) (*structpb.Struct, error) {
	if errors.Is(result.Err, executor.ErrExecutionAborted) && ctx.Err() != nil {
		return nil, status.FromContextError(ctx.Err()).Err()
	}
	out, err := encodeResult(result, addr)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *Server) logRequests(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	requestCounter.Inc(1)

	resp, err := handler(ctx, req)
	requestTimer.UpdateSince(start)
	if err != nil {
		s.logger.Debug("RPC request failed", "method", info.FullMethod, "peer", peerID(ctx), "err", err)
	} else {
		s.logger.Trace("Served RPC request", "method", info.FullMethod, "peer", peerID(ctx), "elapsed", time.Since(start))
	}
	return resp, err
}
