package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
	"github.com/odyssey-erp/stockledger/internal/stock"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLowStockAlert delivers one low-stock notification.
	TaskLowStockAlert = "stock:low_stock_alert"
	// TaskLedgerIntegrity replays every item ledger and reports mismatches.
	TaskLedgerIntegrity = "stock:ledger_integrity"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "stock:idempotency_cleanup"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// LowStockAlertPayload is the body of TaskLowStockAlert.
type LowStockAlertPayload struct {
	Alert    stock.LowStockAlert `json:"alert"`
	RaisedAt time.Time           `json:"raised_at"`
}

// NewLowStockAlertTask builds a task deduplicated per item and day, so a
// burst of stock-outs on one item produces a single notification.
func NewLowStockAlertTask(alert stock.LowStockAlert, at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(LowStockAlertPayload{Alert: alert, RaisedAt: at})
	if err != nil {
		return nil, err
	}
	id := fmt.Sprintf("low-stock:%d:%s", alert.ItemID, at.UTC().Format("2006-01-02"))
	return asynq.NewTask(TaskLowStockAlert, body,
		asynq.Queue(QueueDefault),
		asynq.TaskID(id),
		asynq.MaxRetry(5),
		asynq.Retention(24*time.Hour),
	), nil
}

// LedgerIntegrityPayload scopes an integrity run. ItemID zero means every item.
type LedgerIntegrityPayload struct {
	ItemID int64 `json:"item_id,omitempty"`
}

// NewLedgerIntegrityTask constructs an Asynq task for the ledger scan.
func NewLedgerIntegrityTask(itemID int64) (*asynq.Task, error) {
	body, err := json.Marshal(LedgerIntegrityPayload{ItemID: itemID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupPayload carries the retention window.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs an Asynq task purging keys older than retention.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
