package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/nainya/linksweep/internal/server"
	"github.com/nainya/linksweep/pkg/storage"
)

const maxMessageSize = 100 * 1024 * 1024

func newServeCmd(a *app) *cobra.Command {
	var withStore bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC service with metrics and health endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m := newMetrics()

			opts := []server.Option{
				server.WithBaseURL(a.cfg.BaseURL),
				server.WithLogger(a.log),
				server.WithMetrics(m),
			}
			var ready server.ReadyFunc
			storeName := "none"
			if withStore {
				storeName = a.cfg.Store
				b, err := a.openBackend(ctx, m)
				if err != nil {
					return err
				}
				opts = append(opts, server.WithStore(b.store))
				ready = storeReady(b.store)
			}
			srv := server.NewServer(opts...)
			defer srv.Close()

			lis, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.GrpcPort))
			if err != nil {
				return fmt.Errorf("failed to listen: %w", err)
			}

			grpcServer := grpc.NewServer(
				grpc.MaxRecvMsgSize(maxMessageSize),
				grpc.MaxSendMsgSize(maxMessageSize),
				grpc.UnaryInterceptor(server.GrpcMetricsInterceptor(m, a.log)),
			)
			srv.Register(grpcServer)

			obs := server.NewObservabilityServer(a.cfg.MetricsPort, prometheus.DefaultGatherer, ready, a.log)
			go func() {
				if err := obs.Start(); err != nil {
					a.log.Error("Observability server failed").Err(err).Send()
				}
			}()

			done := make(chan struct{})
			go m.RunUptime(15*time.Second, done)

			errCh := make(chan error, 1)
			go func() {
				a.log.LogServerStart(a.cfg.GrpcPort, storeName)
				a.log.LogServerReady(a.cfg.GrpcPort)
				errCh <- grpcServer.Serve(lis)
			}()

			select {
			case err := <-errCh:
				close(done)
				return err
			case <-ctx.Done():
			}

			a.log.LogServerShutdown()
			close(done)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := obs.Shutdown(shutdownCtx); err != nil {
				a.log.Warn("Observability server shutdown failed").Err(err).Send()
			}

			stopped := make(chan struct{})
			go func() {
				grpcServer.GracefulStop()
				close(stopped)
			}()
			select {
			case <-stopped:
			case <-shutdownCtx.Done():
				grpcServer.Stop()
			}
			a.log.Info("Server stopped").Send()
			return nil
		},
	}

	cmd.Flags().Int("port", 50051, "gRPC port")
	cmd.Flags().Int("metrics-port", 9090, "Metrics and health HTTP port")
	cmd.Flags().BoolVar(&withStore, "with-store", true, "Connect the configured store so Analyze can run")
	return cmd
}

// storeReady checks the store with a cheap collection listing
func storeReady(s storage.Store) server.ReadyFunc {
	type pinger interface {
		Ping(ctx context.Context) error
	}
	return func(ctx context.Context) error {
		if p, ok := s.(pinger); ok {
			return p.Ping(ctx)
		}
		_, err := s.Collections(ctx)
		return err
	}
}
