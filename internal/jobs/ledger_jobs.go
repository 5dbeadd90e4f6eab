package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Job names
const (
	OutboxDispatchJobName  = "outbox_dispatch"
	LowStockAlertJobName   = "low_stock_alert"
	OverdueReminderJobName = "overdue_reminders"
)

// maxDispatchRounds bounds how many batches one tick drains
const maxDispatchRounds = 10

// OutboxDispatcher delivers one batch of queued side effects
type OutboxDispatcher interface {
	DispatchOnce(ctx context.Context) (delivered int, err error)
}

// LowStockAlerter queues the owner's low stock message
type LowStockAlerter interface {
	QueueLowStockAlert(ctx context.Context) (groups int, err error)
}

// ReminderQueuer queues reminders for customers with overdue balances
type ReminderQueuer interface {
	QueueOverdueReminders(ctx context.Context, now time.Time) (queued int, err error)
}

// OutboxDispatchJob drains the outbox until a batch delivers nothing
type OutboxDispatchJob struct {
	dispatcher OutboxDispatcher
	logger     *zap.Logger
	timeout    time.Duration
}

func NewOutboxDispatchJob(dispatcher OutboxDispatcher, logger *zap.Logger, timeout time.Duration) *OutboxDispatchJob {
	return &OutboxDispatchJob{dispatcher: dispatcher, logger: logger, timeout: timeout}
}

// Run is called by the scheduler
func (j *OutboxDispatchJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	total := 0
	for round := 0; round < maxDispatchRounds; round++ {
		delivered, err := j.dispatcher.DispatchOnce(ctx)
		if err != nil {
			j.logger.Error("outbox dispatch failed", zap.Error(err), zap.Int("delivered", total))
			return
		}
		if delivered == 0 {
			break
		}
		total += delivered
	}
	if total > 0 {
		j.logger.Debug("outbox drained", zap.Int("delivered", total))
	}
}

// LowStockAlertJob sends the daily low stock summary to the owner
type LowStockAlertJob struct {
	alerter LowStockAlerter
	logger  *zap.Logger
	timeout time.Duration
}

func NewLowStockAlertJob(alerter LowStockAlerter, logger *zap.Logger, timeout time.Duration) *LowStockAlertJob {
	return &LowStockAlertJob{alerter: alerter, logger: logger, timeout: timeout}
}

// Run is called by the scheduler
func (j *LowStockAlertJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	groups, err := j.alerter.QueueLowStockAlert(ctx)
	if err != nil {
		j.logger.Error("low stock alert failed", zap.Error(err))
		return
	}
	j.logger.Info("low stock alert job completed", zap.Int("low_groups", groups))
}

// OverdueReminderJob queues payment reminders for overdue balances
type OverdueReminderJob struct {
	queuer  ReminderQueuer
	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time
}

func NewOverdueReminderJob(queuer ReminderQueuer, logger *zap.Logger, timeout time.Duration) *OverdueReminderJob {
	return &OverdueReminderJob{
		queuer:  queuer,
		logger:  logger,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run is called by the scheduler
func (j *OverdueReminderJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	queued, err := j.queuer.QueueOverdueReminders(ctx, j.now())
	if err != nil {
		j.logger.Error("overdue reminder job failed", zap.Error(err))
		return
	}
	j.logger.Info("overdue reminder job completed", zap.Int("queued", queued))
}

// RegisterOutboxDispatchJob schedules outbox delivery. A dispatch also runs
// once in the background at startup so messages queued before a restart go out.
func RegisterOutboxDispatchJob(scheduler *Scheduler, dispatcher OutboxDispatcher, logger *zap.Logger, cronExpr string, timeout time.Duration) error {
	job := NewOutboxDispatchJob(dispatcher, logger, timeout)
	if err := scheduler.AddJob(OutboxDispatchJobName, cronExpr, true, job.Run); err != nil {
		return err
	}
	go job.Run()
	return nil
}

// RegisterLowStockAlertJob schedules the low stock summary
func RegisterLowStockAlertJob(scheduler *Scheduler, alerter LowStockAlerter, logger *zap.Logger, cronExpr string, timeout time.Duration) error {
	job := NewLowStockAlertJob(alerter, logger, timeout)
	return scheduler.AddJob(LowStockAlertJobName, cronExpr, false, job.Run)
}

// RegisterOverdueReminderJob schedules payment reminders
func RegisterOverdueReminderJob(scheduler *Scheduler, queuer ReminderQueuer, logger *zap.Logger, cronExpr string, timeout time.Duration) error {
	job := NewOverdueReminderJob(queuer, logger, timeout)
	return scheduler.AddJob(OverdueReminderJobName, cronExpr, false, job.Run)
}
