package store

import (
	"context"

	"codeberg.org/mutker/petvitals/internal/errors"
	"codeberg.org/mutker/petvitals/internal/logger"
	"codeberg.org/mutker/petvitals/internal/metrics"
	"codeberg.org/mutker/petvitals/internal/report"
)

// Service is the persistence sink for samples and the persisting reporter
// for events. When storage is disabled every call is a no-op.
type Service interface {
	metrics.Sink
	report.Reporter
	Repository() Repository
	Close() error
}

type service struct {
	repo Repository
	log  logger.Logger
}

type noopService struct{}

func NewService(cfg Config, log logger.Logger) (Service, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if !cfg.Enabled {
		log.Debug().Msg("Persistence disabled, using no-op store")
		return noopService{}, nil
	}

	repo, err := NewRepository(cfg, log)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to create metrics repository")
		return nil, err
	}

	log.Debug().
		Str("db_path", cfg.DBPath).
		Bool("enabled", cfg.Enabled).
		Msg("Store initialized successfully")

	return &service{repo: repo, log: log}, nil
}

func (s *service) Consume(ctx context.Context, sample metrics.Sample) error {
	errFactory := errors.New()

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
	}

	if err := s.repo.RecordSample(sample); err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}
	return nil
}

// ReportEvent persists the event. Failures are logged, never returned.
func (s *service) ReportEvent(ev report.Event) {
	if err := s.repo.RecordEvent(context.Background(), ev); err != nil {
		s.log.ErrorWithContext(err, "store", "record_event").
			Str("event_id", ev.ID).
			Msg("Failed to persist event")
	}
}

// ReportError persists nothing; errors are already logged by the log reporter.
func (s *service) ReportError(error, string) {}

func (s *service) Repository() Repository { return s.repo }

func (s *service) Close() error {
	errFactory := errors.New()

	if err := s.repo.Close(); err != nil {
		return errFactory.Wrap(ErrStorageClose, err)
	}
	return nil
}

func (noopService) Consume(context.Context, metrics.Sample) error { return nil }
func (noopService) ReportEvent(report.Event)                      {}
func (noopService) ReportError(error, string)                     {}
func (noopService) Repository() Repository                        { return nil }
func (noopService) Close() error                                  { return nil }
