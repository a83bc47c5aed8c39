// Copyright The Telescope Authors
// SPDX-License-Identifier: Apache-2.0

// Package service assembles the store, the fan-out hub and the receiver into
// one runnable process.
package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/telescope-obs/telescope/internal/config"
	"github.com/telescope-obs/telescope/internal/fanout"
	"github.com/telescope-obs/telescope/internal/receiver"
	"github.com/telescope-obs/telescope/internal/store"
	"github.com/telescope-obs/telescope/internal/store/memstore"
)

const shutdownTimeout = 10 * time.Second

// Service is the assembled process.
type Service struct {
	cfg    config.Config
	logger *zap.Logger

	store    store.Store
	hub      *fanout.Hub
	receiver *receiver.Receiver

	asyncErr chan error
}

// New wires all components from configuration. The returned service owns its
// logger; Run flushes it on exit.
func New(cfg config.Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	mem, err := memstore.New(cfg.Storage.Memory, logger.Named("store"))
	if err != nil {
		return nil, err
	}
	st := store.WithTTL(mem, cfg.Storage.TTL)

	hub := fanout.NewHub(logger.Named("stream"), cfg.Stream.QueueSize)

	asyncErr := make(chan error, 1)
	recv, err := receiver.New(cfg.Server, receiver.Settings{
		Logger:         logger.Named("receiver"),
		Store:          st,
		Hub:            hub,
		MetricsHandler: newMetricsHandler(st, hub),
		AsyncErrors:    asyncErr,
	})
	if err != nil {
		return nil, err
	}

	return &Service{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		hub:      hub,
		receiver: recv,
		asyncErr: asyncErr,
	}, nil
}

// Run serves until ctx is canceled or a server fails, then shuts down
// gracefully.
func (s *Service) Run(ctx context.Context) error {
	defer func() {
		_ = s.logger.Sync()
	}()

	if err := s.receiver.Start(ctx); err != nil {
		return fmt.Errorf("start receiver: %w", err)
	}
	s.logger.Info("Telescope is up",
		zap.String("grpc_endpoint", s.cfg.Server.GRPCEndpoint),
		zap.String("http_endpoint", s.cfg.Server.HTTPEndpoint))

	var runErr error
	select {
	case <-ctx.Done():
		s.logger.Info("Shutdown requested")
	case err := <-s.asyncErr:
		s.logger.Error("Server failed", zap.Error(err))
		runErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.receiver.Shutdown(shutdownCtx); err != nil {
		runErr = multierr.Append(runErr, fmt.Errorf("shutdown receiver: %w", err))
	}
	s.hub.Close()
	s.logger.Info("Telescope stopped")
	return runErr
}
