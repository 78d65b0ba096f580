package stock

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

type memoryState struct {
	items          map[int64]Item
	movements      []Movement
	stockOuts      map[int64]StockOut
	nextMovementID int64
	nextStockOutID int64
}

func (s *memoryState) clone() *memoryState {
	out := &memoryState{
		items:          make(map[int64]Item, len(s.items)),
		movements:      make([]Movement, len(s.movements)),
		stockOuts:      make(map[int64]StockOut, len(s.stockOuts)),
		nextMovementID: s.nextMovementID,
		nextStockOutID: s.nextStockOutID,
	}
	for id, item := range s.items {
		out.items[id] = item
	}
	copy(out.movements, s.movements)
	for id, so := range s.stockOuts {
		out.stockOuts[id] = so
	}
	return out
}

// memoryRepo applies a transaction to a copy of the state and swaps it in on
// success, so a failing closure leaves nothing behind.
type memoryRepo struct {
	mu    sync.Mutex
	state *memoryState
	// failMovement, when set, is consulted before every movement insert.
	failMovement func(Movement) error
	commits      int
}

type memoryTx struct {
	repo  *memoryRepo
	state *memoryState
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: &memoryState{items: map[int64]Item{}, stockOuts: map[int64]StockOut{}}}
}

func (r *memoryRepo) addItem(id int64, sku string, reorderLevel int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.items[id] = Item{ID: id, SKU: sku, Name: "Item " + sku, ReorderLevel: reorderLevel}
}

func (r *memoryRepo) item(id int64) Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.items[id]
}

func (r *memoryRepo) movementCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.state.movements)
}

func (r *memoryRepo) stockOutCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.state.stockOuts)
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	work := r.state.clone()
	if err := fn(ctx, &memoryTx{repo: r, state: work}); err != nil {
		return err
	}
	r.state = work
	r.commits++
	return nil
}

func (r *memoryRepo) GetItem(ctx context.Context, itemID int64) (Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.state.items[itemID]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return item, nil
}

func (r *memoryRepo) ListItemIDs(ctx context.Context) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.state.items))
	for id := range r.state.items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *memoryRepo) ListMovementsByItem(ctx context.Context, itemID int64, limit int) ([]Movement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := filterMovements(r.state.movements, func(m Movement) bool { return m.ItemID == itemID })
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// filterMovements returns the matching movements in id order, as the SQL
// repository does.
func filterMovements(all []Movement, keep func(Movement) bool) []Movement {
	out := []Movement{}
	for _, m := range all {
		if keep(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *memoryRepo) ListMovementsByReference(ctx context.Context, ref string) ([]Movement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return filterMovements(r.state.movements, func(m Movement) bool { return m.ReferenceNumber == ref }), nil
}

func (r *memoryRepo) GetStockOut(ctx context.Context, id int64) (StockOut, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	so, ok := r.state.stockOuts[id]
	if !ok {
		return StockOut{}, ErrStockOutNotFound
	}
	return so, nil
}

func (r *memoryRepo) ListStockOutsByReference(ctx context.Context, ref string) ([]StockOut, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []StockOut{}
	for _, so := range r.state.stockOuts {
		if so.ReferenceNumber == ref {
			out = append(out, so)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memoryTx) GetItemForUpdate(ctx context.Context, itemID int64) (Item, error) {
	item, ok := tx.state.items[itemID]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return item, nil
}

func (tx *memoryTx) UpdateItemStock(ctx context.Context, itemID, newStock int64) error {
	item, ok := tx.state.items[itemID]
	if !ok {
		return ErrItemNotFound
	}
	if newStock < 0 {
		return errors.New("check constraint items_current_stock_check violated")
	}
	item.CurrentStock = newStock
	item.UpdatedAt = time.Now().UTC()
	tx.state.items[itemID] = item
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	if tx.repo.failMovement != nil {
		if err := tx.repo.failMovement(m); err != nil {
			return 0, err
		}
	}
	tx.state.nextMovementID++
	m.ID = tx.state.nextMovementID
	tx.state.movements = append(tx.state.movements, m)
	return m.ID, nil
}

func (tx *memoryTx) ListItemMovements(ctx context.Context, itemID int64) ([]Movement, error) {
	return filterMovements(tx.state.movements, func(m Movement) bool { return m.ItemID == itemID }), nil
}

func (tx *memoryTx) ListMovementsByStockOut(ctx context.Context, stockOutID int64) ([]Movement, error) {
	return filterMovements(tx.state.movements, func(m Movement) bool { return m.StockOutID == stockOutID }), nil
}

func (tx *memoryTx) FindFirstMovementByReference(ctx context.Context, ref string, itemID int64) (Movement, error) {
	matches := filterMovements(tx.state.movements, func(m Movement) bool { return m.ReferenceNumber == ref && m.ItemID == itemID })
	if len(matches) == 0 {
		return Movement{}, ErrMovementNotFound
	}
	return matches[0], nil
}

func (tx *memoryTx) DeleteMovements(ctx context.Context, ids []int64) error {
	drop := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := tx.state.movements[:0:0]
	for _, m := range tx.state.movements {
		if _, ok := drop[m.ID]; !ok {
			kept = append(kept, m)
		}
	}
	tx.state.movements = kept
	return nil
}

func (tx *memoryTx) InsertStockOut(ctx context.Context, so StockOut) (int64, error) {
	tx.state.nextStockOutID++
	so.ID = tx.state.nextStockOutID
	tx.state.stockOuts[so.ID] = so
	return so.ID, nil
}

func (tx *memoryTx) GetStockOutForUpdate(ctx context.Context, id int64) (StockOut, error) {
	so, ok := tx.state.stockOuts[id]
	if !ok {
		return StockOut{}, ErrStockOutNotFound
	}
	return so, nil
}

func (tx *memoryTx) UpdateStockOut(ctx context.Context, so StockOut) error {
	if _, ok := tx.state.stockOuts[so.ID]; !ok {
		return ErrStockOutNotFound
	}
	tx.state.stockOuts[so.ID] = so
	return nil
}

func (tx *memoryTx) DeleteStockOut(ctx context.Context, id int64) error {
	if _, ok := tx.state.stockOuts[id]; !ok {
		return ErrStockOutNotFound
	}
	delete(tx.state.stockOuts, id)
	return nil
}

type fakeLookup struct {
	branches   map[int64]string
	employees  map[int64]string
	warehouses map[int64]string
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{
		branches:   map[int64]string{7: "Bandung Branch"},
		employees:  map[int64]string{42: "Sari Wulandari"},
		warehouses: map[int64]string{1: "Main Warehouse"},
	}
}

func (l *fakeLookup) find(m map[int64]string, id int64) (string, error) {
	name, ok := m[id]
	if !ok {
		return "", shared.ErrNotFound
	}
	return name, nil
}

func (l *fakeLookup) BranchName(ctx context.Context, id int64) (string, error) {
	return l.find(l.branches, id)
}

func (l *fakeLookup) EmployeeName(ctx context.Context, id int64) (string, error) {
	return l.find(l.employees, id)
}

func (l *fakeLookup) WarehouseName(ctx context.Context, id int64) (string, error) {
	return l.find(l.warehouses, id)
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
	err  error
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return a.err
}

type recordingEvents struct {
	mu     sync.Mutex
	events []MovementEvent
	err    error
}

func (e *recordingEvents) PublishMovement(ctx context.Context, event MovementEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return e.err
}

type recordingAlerts struct {
	alerts []LowStockAlert
}

func (a *recordingAlerts) NotifyLowStock(ctx context.Context, alert LowStockAlert) error {
	a.alerts = append(a.alerts, alert)
	return nil
}

type countingMetrics struct {
	mu           sync.Mutex
	movements    map[string]int64
	insufficient int
	checks       map[bool]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{movements: map[string]int64{}, checks: map[bool]int{}}
}

func (m *countingMetrics) RecordMovement(movementType string, quantity int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.movements[movementType] += quantity
}

func (m *countingMetrics) RecordInsufficientStock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insufficient++
}

func (m *countingMetrics) RecordLedgerCheck(consistent bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[consistent]++
}

type memoryIdempotency struct {
	keys map[string]string
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{keys: map[string]string{}}
}

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if _, ok := m.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = module
	return nil
}

func (m *memoryIdempotency) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	delete(m.keys, key)
	return nil
}

type fixture struct {
	repo    *memoryRepo
	svc     *Service
	audit   *recordingAudit
	events  *recordingEvents
	alerts  *recordingAlerts
	metrics *countingMetrics
	idem    *memoryIdempotency
}

func newFixture() *fixture {
	f := &fixture{
		repo:    newMemoryRepo(),
		audit:   &recordingAudit{},
		events:  &recordingEvents{},
		alerts:  &recordingAlerts{},
		metrics: newCountingMetrics(),
		idem:    newMemoryIdempotency(),
	}
	f.svc = NewService(f.repo, Dependencies{
		Audit:       f.audit,
		Idempotency: f.idem,
		Lookup:      newFakeLookup(),
		Events:      f.events,
		Alerts:      f.alerts,
		Metrics:     f.metrics,
	}, ServiceConfig{LowStockAlerts: true})
	return f
}

// stocked registers an item and receives qty into it.
func (f *fixture) stocked(id int64, qty int64) {
	f.repo.addItem(id, skuFor(id), 0)
	if qty > 0 {
		if _, err := f.svc.RecordStockIn(context.Background(), StockInInput{ItemID: id, Quantity: qty, ReferenceNumber: "GRN-INIT"}); err != nil {
			panic(err)
		}
	}
}

func skuFor(id int64) string {
	return "SKU-" + string(rune('A'+id-1))
}
