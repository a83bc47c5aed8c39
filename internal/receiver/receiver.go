// Copyright The Telescope Authors
// SPDX-License-Identifier: Apache-2.0

// Package receiver hosts the OTLP ingestion entry points: the three standard
// gRPC export services and the HTTP/JSON endpoints, plus the streaming
// websocket endpoint. Every request path converts per item, writes accepted
// records to the store and hands each one to the fan-out hub.
package receiver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/soheilhy/cmux"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	colmetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"

	"github.com/telescope-obs/telescope/internal/fanout"
	"github.com/telescope-obs/telescope/internal/store"
)

// Config is the receiver's network surface.
type Config struct {
	// GRPCEndpoint and HTTPEndpoint may be equal, in which case one listener
	// serves both protocols behind a connection mux.
	GRPCEndpoint string `koanf:"grpc_endpoint"`
	HTTPEndpoint string `koanf:"http_endpoint"`

	// CORSOrigins allows browser dashboards on other origins to reach the
	// HTTP endpoints. Empty allows any origin.
	CORSOrigins []string `koanf:"cors_origins"`
}

// Settings are the injected collaborators.
type Settings struct {
	Logger *zap.Logger
	Store  store.Store
	Hub    *fanout.Hub

	// MetricsHandler, when set, is mounted at /metrics on the HTTP server.
	MetricsHandler http.Handler

	// AsyncErrors receives fatal serve errors after a successful Start.
	AsyncErrors chan<- error
}

// Receiver owns the gRPC and HTTP servers.
type Receiver struct {
	cfg Config
	set Settings

	pipeline *pipeline

	serverGRPC *grpc.Server
	serverHTTP *http.Server
	mux        cmux.CMux
	listeners  []net.Listener
	shutdownWG sync.WaitGroup
	stopping   atomic.Bool
}

// New creates the receiver services. Start must be called to begin serving.
func New(cfg Config, set Settings) (*Receiver, error) {
	if set.Store == nil {
		return nil, errors.New("receiver requires a store")
	}
	if set.Hub == nil {
		return nil, errors.New("receiver requires a fan-out hub")
	}
	if set.Logger == nil {
		set.Logger = zap.NewNop()
	}
	return &Receiver{
		cfg: cfg,
		set: set,
		pipeline: &pipeline{
			store:  set.Store,
			hub:    set.Hub,
			logger: set.Logger,
		},
	}, nil
}

// Start binds the configured endpoints and begins serving. A serve failure
// after a successful Start is reported on Settings.AsyncErrors.
func (r *Receiver) Start(ctx context.Context) error {
	var grpcLis, httpLis net.Listener

	if r.cfg.GRPCEndpoint == r.cfg.HTTPEndpoint {
		base, err := net.Listen("tcp", r.cfg.GRPCEndpoint)
		if err != nil {
			return err
		}
		r.listeners = append(r.listeners, base)
		r.mux = cmux.New(base)
		grpcLis = r.mux.MatchWithWriters(
			cmux.HTTP2MatchHeaderFieldSendSettings("content-type", "application/grpc"))
		httpLis = r.mux.Match(cmux.Any())
		r.set.Logger.Info("Sharing one listener between gRPC and HTTP",
			zap.String("endpoint", base.Addr().String()))
		r.serveAsync(func() error { return r.mux.Serve() })
	} else {
		var err error
		if grpcLis, err = net.Listen("tcp", r.cfg.GRPCEndpoint); err != nil {
			return err
		}
		r.listeners = append(r.listeners, grpcLis)
		if httpLis, err = net.Listen("tcp", r.cfg.HTTPEndpoint); err != nil {
			_ = grpcLis.Close()
			return err
		}
		r.listeners = append(r.listeners, httpLis)
	}

	r.startGRPC(grpcLis)
	r.startHTTP(httpLis)
	return nil
}

func (r *Receiver) startGRPC(lis net.Listener) {
	r.serverGRPC = grpc.NewServer()
	coltracepb.RegisterTraceServiceServer(r.serverGRPC, &traceService{pipeline: r.pipeline})
	colmetricspb.RegisterMetricsServiceServer(r.serverGRPC, &metricsService{pipeline: r.pipeline})
	collogspb.RegisterLogsServiceServer(r.serverGRPC, &logsService{pipeline: r.pipeline})

	r.set.Logger.Info("Starting GRPC server", zap.String("endpoint", lis.Addr().String()))
	r.serveAsync(func() error { return r.serverGRPC.Serve(lis) })
}

func (r *Receiver) startHTTP(lis net.Listener) {
	router := mux.NewRouter()
	router.HandleFunc("/v1/traces", r.handleTraces).Methods(http.MethodPost)
	router.HandleFunc("/v1/metrics", r.handleMetrics).Methods(http.MethodPost)
	router.HandleFunc("/v1/logs", r.handleLogs).Methods(http.MethodPost)
	router.Handle("/v1/stream", r.set.Hub.ServeWS(r.upgrader()))
	if r.set.MetricsHandler != nil {
		router.Handle("/metrics", r.set.MetricsHandler)
	}

	handler := cors.New(cors.Options{
		AllowedOrigins: r.allowedOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type", "Content-Encoding"},
	}).Handler(router)

	r.serverHTTP = &http.Server{Handler: handler}
	r.set.Logger.Info("Starting HTTP server", zap.String("endpoint", lis.Addr().String()))
	r.serveAsync(func() error { return r.serverHTTP.Serve(lis) })
}

func (r *Receiver) allowedOrigins() []string {
	if len(r.cfg.CORSOrigins) == 0 {
		return []string{"*"}
	}
	return r.cfg.CORSOrigins
}

func (r *Receiver) upgrader() *websocket.Upgrader {
	origins := r.cfg.CORSOrigins
	return &websocket.Upgrader{
		ReadBufferSize:  4 * 1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin: func(req *http.Request) bool {
			if len(origins) == 0 {
				return true
			}
			origin := req.Header.Get("Origin")
			for _, allowed := range origins {
				if allowed == "*" || strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// serveAsync runs serve under the shutdown group, surfacing unexpected exit
// errors on the async channel.
func (r *Receiver) serveAsync(serve func() error) {
	r.shutdownWG.Add(1)
	go func() {
		defer r.shutdownWG.Done()
		err := serve()
		if err == nil || r.stopping.Load() ||
			errors.Is(err, grpc.ErrServerStopped) ||
			errors.Is(err, http.ErrServerClosed) ||
			errors.Is(err, net.ErrClosed) {
			return
		}
		if r.set.AsyncErrors != nil {
			select {
			case r.set.AsyncErrors <- err:
			default:
			}
		}
	}()
}

// Shutdown stops accepting new work and waits for in-flight requests.
func (r *Receiver) Shutdown(ctx context.Context) error {
	r.stopping.Store(true)
	var err error
	if r.serverHTTP != nil {
		err = r.serverHTTP.Shutdown(ctx)
	}
	if r.serverGRPC != nil {
		r.serverGRPC.GracefulStop()
	}
	for _, lis := range r.listeners {
		_ = lis.Close()
	}
	r.shutdownWG.Wait()
	return err
}
