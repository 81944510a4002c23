// Package scheduler запускает фоновые задачи экономики: ежедневное обнуление
// прерванных серий и повторную доставку покупок.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// sweepLeaseName — имя аренды ежедневной задачи в хранилище.
const sweepLeaseName = "streak-sweep"

// sweepLeaseTTL должен перекрывать длительность самой задачи с запасом.
const sweepLeaseTTL = time.Hour

const fulfillmentInterval = 30 * time.Second
const fulfillmentBatch = 50

// Economy описывает операции сервиса, выполняемые по расписанию.
type Economy interface {
	ExpireStreaks(ctx context.Context, now time.Time) (int64, error)
	AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)
	DeliverPending(ctx context.Context, limit int) (int, error)
}

// Scheduler управляет фоновыми задачами экономики.
type Scheduler struct {
	svc         Economy
	logger      *zap.Logger
	sweepHour   int
	sweepMinute int
	holder      string
	now         func() time.Time
}

// New создаёт планировщик. sweepTime задаёт момент ежедневного запуска в UTC
// в формате "HH:MM".
func New(svc Economy, logger *zap.Logger, sweepTime string) (*Scheduler, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(sweepTime, "%d:%d", &hour, &minute); err != nil {
		return nil, fmt.Errorf("parse sweep time %q: %w", sweepTime, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return nil, fmt.Errorf("sweep time %q out of range", sweepTime)
	}

	hostname, _ := os.Hostname()
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		svc:         svc,
		logger:      logger,
		sweepHour:   hour,
		sweepMinute: minute,
		holder:      fmt.Sprintf("%s-%s", hostname, uuid.NewString()),
		now:         time.Now,
	}, nil
}

// nextSweep возвращает ближайший будущий момент ежедневного запуска в UTC.
func (s *Scheduler) nextSweep(now time.Time) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), s.sweepHour, s.sweepMinute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Run выполняет фоновые задачи до отмены контекста.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.runSweepLoop(ctx)
	})

	g.Go(func() error {
		return s.runFulfillmentLoop(ctx)
	})

	return g.Wait()
}

func (s *Scheduler) runSweepLoop(ctx context.Context) error {
	for {
		next := s.nextSweep(s.now())
		timer := time.NewTimer(next.Sub(s.now()))

		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			s.runSweep(ctx)
		}
	}
}

// runSweep выполняет обнуление серий под арендой хранилища, чтобы задача
// сработала ровно на одном экземпляре сервиса.
func (s *Scheduler) runSweep(ctx context.Context) {
	acquired, err := s.svc.AcquireLease(ctx, sweepLeaseName, s.holder, sweepLeaseTTL)
	if err != nil {
		s.logger.Error("acquire sweep lease failed", zap.Error(err))
		return
	}
	if !acquired {
		s.logger.Info("sweep lease held by another instance, skipping")
		return
	}

	expired, err := s.svc.ExpireStreaks(ctx, s.now())
	if err != nil {
		s.logger.Error("streak sweep failed", zap.Error(err))
		return
	}

	s.logger.Info("streak sweep completed", zap.Int64("expired", expired))
}

func (s *Scheduler) runFulfillmentLoop(ctx context.Context) error {
	ticker := time.NewTicker(fulfillmentInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.redeliverPending(ctx)
		}
	}
}

// redeliverPending доставляет зависшие покупки с экспоненциальной паузой между
// попытками. Доставка идемпотентна по идентификатору покупки, поэтому повтор
// после частичного успеха безопасен.
func (s *Scheduler) redeliverPending(ctx context.Context) {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(500*time.Millisecond))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		delivered, err := s.svc.DeliverPending(ctx, fulfillmentBatch)
		if err != nil {
			return retry.RetryableError(err)
		}
		if delivered > 0 {
			s.logger.Info("pending fulfillments delivered", zap.Int("count", delivered))
		}
		return nil
	})
	if err != nil && ctx.Err() == nil {
		s.logger.Warn("pending fulfillment redelivery failed", zap.Error(err))
	}
}
