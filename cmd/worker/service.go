package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/bazari-settlement/pkg/config"
	"github.com/angelmondragon/bazari-settlement/pkg/logger"
)

type pinger interface {
	Ping(context.Context) error
}

type runner interface {
	Run(context.Context) error
}

type ServiceParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	Redis    pinger
	PubSub   pinger
	Consumer runner
}

// Service hosts the settlement hooks consumer.
type Service struct {
	cfg      *config.Config
	logg     *logger.Logger
	redis    pinger
	pubsub   pinger
	consumer runner
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if params.PubSub == nil {
		return nil, errors.New("pubsub client is required")
	}
	if params.Consumer == nil {
		return nil, errors.New("hooks consumer is required")
	}

	return &Service{
		cfg:      params.Config,
		logg:     params.Logger,
		redis:    params.Redis,
		pubsub:   params.PubSub,
		consumer: params.Consumer,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "redis", s.redis.Ping); err != nil {
		return err
	}
	if err := pingDependency(ctx, s.logg, "pubsub", s.pubsub.Ping); err != nil {
		return err
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	err := s.consumer.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logg.Error(ctx, "hooks consumer stopped unexpectedly", err)
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		s.logg.Info(ctx, "worker context canceled")
		return ctxErr
	}
	return err
}
