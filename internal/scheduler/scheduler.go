package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Cleaner - операции обслуживания хранилища, которые выполняются по расписанию
type Cleaner interface {
	PurgeDeleted(ctx context.Context) (int, error)
	SweepOrphans(ctx context.Context, grace time.Duration) (int, error)
}

// Scheduler периодически дочищает удаленные файлы и объекты-сироты
type Scheduler struct {
	cron    *cron.Cron
	cleaner Cleaner
	grace   time.Duration
	logger  *zap.Logger

	mu  sync.Mutex
	ctx context.Context
}

// New регистрирует задачу очистки по расписанию в формате cron (поддерживаются @every и @hourly)
func New(cleaner Cleaner, schedule string, grace time.Duration, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("system", "cron"))
	cronLogger := zapCronLogger{logger.Sugar()}

	s := &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger),
			cron.SkipIfStillRunning(cronLogger),
		), cron.WithLogger(cronLogger)),
		cleaner: cleaner,
		grace:   grace,
		logger:  logger,
		ctx:     context.Background(),
	}

	if _, err := s.cron.AddFunc(schedule, func() { s.RunOnce(s.context()) }); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// RunOnce выполняет один проход очистки
func (s *Scheduler) RunOnce(ctx context.Context) {
	purged, err := s.cleaner.PurgeDeleted(ctx)
	if err != nil {
		s.logger.Error("purge of deleted files failed", zap.Error(err), zap.Int("purged", purged))
	} else if purged > 0 {
		s.logger.Info("deleted files purged", zap.Int("purged", purged))
	}

	swept, err := s.cleaner.SweepOrphans(ctx, s.grace)
	if err != nil {
		s.logger.Error("orphan sweep failed", zap.Error(err), zap.Int("swept", swept))
	} else if swept > 0 {
		s.logger.Info("orphan objects removed", zap.Int("swept", swept))
	}
}

// Start запускает планировщик; задачи получают ctx и прерываются при его отмене
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.logger.Info("cleanup scheduler started")
	s.cron.Start()
}

// Stop дожидается завершения выполняющихся задач
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("cleanup scheduler stopped")
}

// zapCronLogger реализует cron.Logger поверх zap
type zapCronLogger struct {
	s *zap.SugaredLogger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
