package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/chataccess/pkg/logger"
)

const heartbeatInterval = 30 * time.Second

type pinger interface {
	Ping(context.Context) error
}

type runner interface {
	Run(ctx context.Context) error
}

type dependency struct {
	name string
	dep  pinger
}

type ServiceParams struct {
	Logger   *logger.Logger
	Redis    pinger
	PubSub   pinger
	Consumer runner
}

// Service supervises the mail consumer after checking its dependencies.
type Service struct {
	logg      *logger.Logger
	deps      []dependency
	consumer  runner
	heartbeat time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.Redis == nil:
		return nil, errors.New("redis client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.Consumer == nil:
		return nil, errors.New("mail consumer is required")
	}
	return &Service{
		logg: params.Logger,
		deps: []dependency{
			{name: "redis", dep: params.Redis},
			{name: "pubsub", dep: params.PubSub},
		},
		consumer:  params.Consumer,
		heartbeat: heartbeatInterval,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for _, d := range s.deps {
		if err := d.dep.Ping(ctx); err != nil {
			s.logg.Error(ctx, fmt.Sprintf("%s ping failed", d.name), err)
			return fmt.Errorf("%s ping failed: %w", d.name, err)
		}
	}
	s.logg.Info(ctx, "mail worker dependencies are ready")
	return nil
}

// Run blocks until ctx is cancelled or the consumer exits.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.consumer.Run(ctx)
	}()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "mail worker context canceled")
			return ctx.Err()
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logg.Error(ctx, "mail consumer stopped unexpectedly", err)
				return err
			}
			if err == nil && ctx.Err() == nil {
				return errors.New("mail consumer exited")
			}
			return err
		case <-ticker.C:
			s.logg.Debug(ctx, "mail worker heartbeat")
		}
	}
}
