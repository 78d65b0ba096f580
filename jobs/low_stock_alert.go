package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
	"github.com/odyssey-erp/stockledger/internal/platform/events"
	"github.com/odyssey-erp/stockledger/internal/stock"
)

// EventLowStock is published for every processed low-stock alert.
const EventLowStock = "stock.low_stock"

// Enqueuer submits tasks; satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AlertEnqueuer schedules low-stock alerts on the worker queue.
type AlertEnqueuer struct {
	enqueuer Enqueuer
	clock    func() time.Time
}

// NewAlertEnqueuer constructs an AlertEnqueuer.
func NewAlertEnqueuer(enqueuer Enqueuer) *AlertEnqueuer {
	return &AlertEnqueuer{enqueuer: enqueuer, clock: func() time.Time { return time.Now().UTC() }}
}

// NotifyLowStock enqueues the alert. An alert already queued for the item
// today is not an error.
func (a *AlertEnqueuer) NotifyLowStock(ctx context.Context, alert stock.LowStockAlert) error {
	if a == nil || a.enqueuer == nil {
		return errors.New("low stock alert: enqueuer not configured")
	}
	task, err := NewLowStockAlertTask(alert, a.clock())
	if err != nil {
		return err
	}
	if _, err := a.enqueuer.EnqueueContext(ctx, task); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return nil
		}
		return fmt.Errorf("low stock alert: enqueue item %d: %w", alert.ItemID, err)
	}
	return nil
}

// Publisher forwards processed alerts downstream; satisfied by *events.Publisher.
type Publisher interface {
	Publish(ctx context.Context, msg events.Message) error
}

// LowStockAlertJob processes TaskLowStockAlert.
type LowStockAlertJob struct {
	Publisher Publisher
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewLowStockAlertJob constructs the job handler. A nil publisher only logs.
func NewLowStockAlertJob(publisher Publisher, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockAlertJob {
	return &LowStockAlertJob{Publisher: publisher, Logger: logger, Metrics: metrics}
}

// Handle executes the alert job.
func (j *LowStockAlertJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload LowStockAlertPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("low stock alert: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.Alert.ItemID <= 0 {
		return fmt.Errorf("low stock alert: item id required: %w", asynq.SkipRetry)
	}

	metrics := j.metrics()
	tracker := metrics.Track(TaskLowStockAlert)

	alert := payload.Alert
	j.log().Warn("item at or below reorder level",
		slog.Int64("item_id", alert.ItemID),
		slog.String("sku", alert.SKU),
		slog.Int64("current_stock", alert.CurrentStock),
		slog.Int64("reorder_level", alert.ReorderLevel),
		slog.Int64("minimum_stock", alert.MinimumStock))

	if j.Publisher != nil {
		err := j.Publisher.Publish(ctx, events.Message{
			Key:     fmt.Sprintf("item_%d", alert.ItemID),
			Type:    EventLowStock,
			Payload: payload,
		})
		if err != nil {
			return tracker.End(fmt.Errorf("low stock alert: publish: %w", err))
		}
	}
	metrics.IncLowStockAlerts()
	return tracker.End(nil)
}

func (j *LowStockAlertJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *LowStockAlertJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLowStockAlert))
	}
	return slog.Default().With(slog.String("job", TaskLowStockAlert))
}
