// Package server implements the gRPC LinkSweep service
package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nainya/linksweep/internal/logger"
	"github.com/nainya/linksweep/internal/metrics"
	"github.com/nainya/linksweep/pkg/analyze"
	"github.com/nainya/linksweep/pkg/occurrence"
	"github.com/nainya/linksweep/pkg/patch"
	"github.com/nainya/linksweep/pkg/report"
	"github.com/nainya/linksweep/pkg/storage"
)

// Server implements LinkSweepServer. Pure document operations need no store;
// Analyze fails with FailedPrecondition when none is configured.
type Server struct {
	store     storage.Store
	baseURL   string
	log       *logger.Logger
	metrics   *metrics.Metrics
	startTime time.Time

	mu       sync.Mutex
	opCounts map[string]int64
}

// Option configures a Server
type Option func(*Server)

// WithStore sets the store Analyze scans
func WithStore(s storage.Store) Option {
	return func(srv *Server) { srv.store = s }
}

// WithBaseURL sets the default site root for document URLs
func WithBaseURL(u string) Option {
	return func(srv *Server) { srv.baseURL = u }
}

// WithLogger sets the server logger
func WithLogger(l *logger.Logger) Option {
	return func(srv *Server) { srv.log = l }
}

// WithMetrics passes metrics to Analyze scans
func WithMetrics(m *metrics.Metrics) Option {
	return func(srv *Server) { srv.metrics = m }
}

// NewServer creates a new service instance
func NewServer(opts ...Option) *Server {
	s := &Server{
		log:       logger.Nop(),
		startTime: time.Now(),
		opCounts:  make(map[string]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds the service to a gRPC server
func (s *Server) Register(g *grpc.Server) {
	g.RegisterService(&ServiceDesc, s)
}

func (s *Server) count(op string) {
	s.mu.Lock()
	s.opCounts[op]++
	s.mu.Unlock()
}

func (s *Server) Scan(ctx context.Context, req *ScanRequest) (*ScanResponse, error) {
	s.count("Scan")

	if req.Document == nil {
		return nil, status.Error(codes.InvalidArgument, "document is required")
	}
	if req.Target == "" {
		return nil, status.Error(codes.InvalidArgument, "target is required")
	}

	res := occurrence.Scan(req.Document, req.Target)
	fields := make([]report.Field, len(res.Fields))
	for i, f := range res.Fields {
		fields[i] = report.Field{Path: f.Address.String(), Count: f.Count}
	}
	return &ScanResponse{TotalOccurrences: res.Total, Fields: fields}, nil
}

func (s *Server) ComputePatch(ctx context.Context, req *ComputePatchRequest) (*ComputePatchResponse, error) {
	s.count("ComputePatch")

	if req.Document == nil {
		return nil, status.Error(codes.InvalidArgument, "document is required")
	}
	if req.Target == "" {
		return nil, status.Error(codes.InvalidArgument, "target is required")
	}

	n, p := patch.Compute(req.Document, req.Target, req.Replacement)
	updated, err := patch.Apply(req.Document, p)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to apply patch: %v", err)
	}
	return &ComputePatchResponse{Replacements: n, Patch: p, Document: updated}, nil
}

func (s *Server) LinkedUpdate(ctx context.Context, req *LinkedUpdateRequest) (*LinkedUpdateResponse, error) {
	s.count("LinkedUpdate")

	if req.Document == nil {
		return nil, status.Error(codes.InvalidArgument, "document is required")
	}

	n, p := patch.LinkedUpdate(req.Document, req.Rule.rule())
	return &LinkedUpdateResponse{Changes: n, Patch: p}, nil
}

func (s *Server) Analyze(ctx context.Context, req *AnalyzeRequest) (*AnalyzeResponse, error) {
	s.count("Analyze")

	if s.store == nil {
		return nil, status.Error(codes.FailedPrecondition, "no document store configured")
	}
	baseURL := req.BaseURL
	if baseURL == "" {
		baseURL = s.baseURL
	}

	rep, err := analyze.Run(ctx, s.store, analyze.Options{
		Target:      req.Target,
		Collections: req.Collections,
		URLs:        report.URLResolver{BaseURL: baseURL},
		Logger:      s.log,
		Metrics:     s.metrics,
	})
	switch {
	case errors.Is(err, analyze.ErrMissingTarget):
		return nil, status.Error(codes.InvalidArgument, "target is required")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, status.FromContextError(err).Err()
	case err != nil:
		return nil, status.Errorf(codes.Internal, "analyze failed: %v", err)
	}
	return &AnalyzeResponse{Report: rep}, nil
}

func (s *Server) Health(ctx context.Context, req *HealthRequest) (*HealthResponse, error) {
	s.count("Health")
	return &HealthResponse{Healthy: true, Status: "ok", Started: s.startTime.UTC()}, nil
}

func (s *Server) Stats(ctx context.Context, req *StatsRequest) (*StatsResponse, error) {
	s.count("Stats")

	s.mu.Lock()
	ops := make(map[string]int64, len(s.opCounts))
	for k, v := range s.opCounts {
		ops[k] = v
	}
	s.mu.Unlock()

	return &StatsResponse{
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Operations:    ops,
	}, nil
}

// Close releases the store
func (s *Server) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}
