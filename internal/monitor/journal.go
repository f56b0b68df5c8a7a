package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"futures-bot/internal/exchange"
	"futures-bot/internal/order"
	"futures-bot/internal/store"
)

// Journal 将策略运行全程的结构化事件落盘，
// 进程崩溃后可凭事件流还原每个策略运行的进度与在途订单。
type Journal struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewJournal 初始化事件日志，创建所需表结构。
func NewJournal(store *store.Store, logger *zap.Logger) (*Journal, error) {
	if store == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	j := &Journal{
		db:     store.DB(),
		logger: logger,
	}

	if err := j.initSchema(); err != nil {
		return nil, err
	}

	return j, nil
}

func (j *Journal) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS run_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	run_id TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_events_type ON run_events(event_type);
CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id);
`
	if _, err := j.db.Exec(stmt); err != nil {
		return fmt.Errorf("monitor: 初始化表失败: %w", err)
	}
	return nil
}

// Record 写入单个事件。
func (j *Journal) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = j.db.ExecContext(ctx,
		`INSERT INTO run_events (event_type, run_id, payload, created_at) VALUES (?, ?, ?, ?)`,
		string(event.Type), event.RunID, string(payload), event.Timestamp.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	return nil
}

// RecordRunStarted 记录策略运行启动。
func (j *Journal) RecordRunStarted(ctx context.Context, runID string, payload interface{}) {
	j.record(ctx, Event{Type: EventRunStarted, RunID: runID, Payload: payload})
}

// RecordIntentSubmitted 记录订单意图提交。
func (j *Journal) RecordIntentSubmitted(ctx context.Context, runID string, intent order.Intent) {
	payload := IntentPayload{
		Symbol:        intent.Symbol,
		Side:          string(intent.Side),
		Kind:          string(intent.Kind),
		Quantity:      intent.Quantity.String(),
		ClientOrderID: intent.ClientOrderID,
	}
	if !intent.Price.IsZero() {
		payload.Price = intent.Price.String()
	}
	if !intent.StopPrice.IsZero() {
		payload.StopPrice = intent.StopPrice.String()
	}
	j.record(ctx, Event{Type: EventIntentSubmitted, RunID: runID, Payload: payload})
}

// RecordOrderPlaced 记录订单受理。
func (j *Journal) RecordOrderPlaced(ctx context.Context, runID string, placed exchange.Order) {
	j.record(ctx, Event{Type: EventOrderPlaced, RunID: runID, Payload: OrderPayload{
		Symbol:   placed.Symbol,
		OrderID:  placed.ID,
		Side:     string(placed.Side),
		Kind:     string(placed.Kind),
		Quantity: placed.Amount.String(),
		Price:    placed.Price.String(),
		Status:   string(placed.Status),
	}})
}

// RecordTransition 记录状态迁移。
func (j *Journal) RecordTransition(ctx context.Context, runID string, payload TransitionPayload) {
	j.record(ctx, Event{Type: EventStatusTransition, RunID: runID, Payload: payload})
}

// RecordRunCanceled 记录策略运行被取消。
func (j *Journal) RecordRunCanceled(ctx context.Context, runID string, payload interface{}) {
	j.record(ctx, Event{Type: EventRunCanceled, RunID: runID, Payload: payload})
}

// RecordRunFinished 记录策略运行结束。
func (j *Journal) RecordRunFinished(ctx context.Context, runID string, payload interface{}) {
	j.record(ctx, Event{Type: EventRunFinished, RunID: runID, Payload: payload})
}

// RecordError 记录异常。
func (j *Journal) RecordError(ctx context.Context, runID, msg string, err error, ctxMap map[string]interface{}) {
	j.record(ctx, Event{Type: EventError, RunID: runID, Payload: ErrorPayload{
		Message: msg,
		Error:   err.Error(),
		Context: ctxMap,
	}})
}

func (j *Journal) record(ctx context.Context, event Event) {
	if err := j.Record(ctx, event); err != nil {
		j.logger.Warn("记录监控事件失败",
			zap.String("event_type", string(event.Type)),
			zap.Error(err),
		)
	}
}

// ListEvents 按类型检索最近事件。eventType 为空时返回全部类型。
func (j *Journal) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT event_type, run_id, payload, created_at FROM run_events`
	args := make([]interface{}, 0, 2)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			typ     string
			runID   string
			payload string
			created string
		)
		if scanErr := rows.Scan(&typ, &runID, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339, created)
		if parseErr != nil {
			ts = time.Now().UTC()
		}

		events = append(events, Event{
			Type:      EventType(typ),
			RunID:     runID,
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}

	return events, nil
}
