package stock

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockledger/internal/platform/db"
)

// Repository persists items, movements and stock-outs in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	txc  db.TxOptions
}

// RepositoryConfig tunes transaction retries.
type RepositoryConfig struct {
	// MaxRetries is how many times a unit of work is re-run after a
	// serialization failure or deadlock.
	MaxRetries int
	// OnRetry is called before every retry.
	OnRetry func(error)
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, cfg RepositoryConfig) *Repository {
	opts := db.TxOptions{IsoLevel: pgx.ReadCommitted, MaxRetries: cfg.MaxRetries}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if cfg.OnRetry != nil {
		opts.OnRetry = func(_ int, err error) { cfg.OnRetry(err) }
	}
	return &Repository{pool: pool, txc: opts}
}

// TxRepository exposes the operations allowed inside a ledger transaction.
type TxRepository interface {
	GetItemForUpdate(ctx context.Context, itemID int64) (Item, error)
	UpdateItemStock(ctx context.Context, itemID, newStock int64) error
	InsertMovement(ctx context.Context, m Movement) (int64, error)
	ListItemMovements(ctx context.Context, itemID int64) ([]Movement, error)
	ListMovementsByStockOut(ctx context.Context, stockOutID int64) ([]Movement, error)
	FindFirstMovementByReference(ctx context.Context, ref string, itemID int64) (Movement, error)
	DeleteMovements(ctx context.Context, ids []int64) error
	InsertStockOut(ctx context.Context, so StockOut) (int64, error)
	GetStockOutForUpdate(ctx context.Context, id int64) (StockOut, error)
	UpdateStockOut(ctx context.Context, so StockOut) error
	DeleteStockOut(ctx context.Context, id int64) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx runs fn inside a read-committed transaction. Isolation comes from the
// item row locks: SELECT ... FOR UPDATE waits for the holder and then reads the
// latest committed row. The whole closure is re-run when PostgreSQL aborts it
// with a deadlock, so fn must not leak state from a failed attempt.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("stock repository not initialised")
	}
	return db.WithTx(ctx, r.pool, r.txc, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const itemColumns = `id, sku, name, current_stock, minimum_stock, maximum_stock, reorder_level, updated_at`

const movementColumns = `id, item_id, movement_type, quantity, previous_stock, new_stock, COALESCE(reference_number, ''),
COALESCE(reason, ''), COALESCE(reason_type, ''), COALESCE(recipient, ''), COALESCE(warehouse_id, 0), COALESCE(stock_out_id, 0),
COALESCE(notes, ''), COALESCE(created_by, 0), created_at`

const stockOutColumns = `id, stock_out_type, item_id, quantity, out_date, COALESCE(note, ''), COALESCE(branch_id, 0), COALESCE(employee_id, 0),
COALESCE(reference_number, ''), COALESCE(movement_id, 0), COALESCE(created_by, 0), created_at, updated_at`

// GetItem loads an item without locking it.
func (r *Repository) GetItem(ctx context.Context, itemID int64) (Item, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id=$1`, itemID)
	return scanItem(row)
}

// ListItemIDs returns every item id in ascending order.
func (r *Repository) ListItemIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM items ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListMovementsByItem returns the item's movements newest first. A limit <= 0 returns all.
// Ledger order is id order: ids are drawn while the item row is locked.
func (r *Repository) ListMovementsByItem(ctx context.Context, itemID int64, limit int) ([]Movement, error) {
	query := `SELECT ` + movementColumns + ` FROM stock_movements WHERE item_id=$1 ORDER BY id DESC`
	args := []any{itemID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectMovements(rows)
}

// ListMovementsByReference returns a batch's movements in creation order.
func (r *Repository) ListMovementsByReference(ctx context.Context, ref string) ([]Movement, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+movementColumns+` FROM stock_movements WHERE reference_number=$1 ORDER BY id ASC`, ref)
	if err != nil {
		return nil, err
	}
	return collectMovements(rows)
}

// GetStockOut loads a stock-out by id.
func (r *Repository) GetStockOut(ctx context.Context, id int64) (StockOut, error) {
	return scanStockOut(r.pool.QueryRow(ctx, `SELECT `+stockOutColumns+` FROM stock_outs WHERE id=$1`, id))
}

// ListStockOutsByReference returns a batch's stock-outs in creation order.
func (r *Repository) ListStockOutsByReference(ctx context.Context, ref string) ([]StockOut, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+stockOutColumns+` FROM stock_outs WHERE reference_number=$1 ORDER BY id ASC`, ref)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []StockOut{}
	for rows.Next() {
		so, err := scanStockOut(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, so)
	}
	return out, rows.Err()
}

func (r *txRepository) GetItemForUpdate(ctx context.Context, itemID int64) (Item, error) {
	return scanItem(r.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id=$1 FOR UPDATE`, itemID))
}

func (r *txRepository) UpdateItemStock(ctx context.Context, itemID, newStock int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE items SET current_stock=$2, updated_at=NOW() WHERE id=$1`, itemID, newStock)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (item_id, movement_type, quantity, previous_stock, new_stock, reference_number, reason, reason_type, recipient, warehouse_id, stock_out_id, notes, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14) RETURNING id`,
		m.ItemID, string(m.Type), m.Quantity, m.PreviousStock, m.NewStock, nullString(m.ReferenceNumber), nullString(m.Reason),
		nullString(string(m.ReasonType)), nullString(m.Recipient), nullInt(m.WarehouseID), nullInt(m.StockOutID), nullString(m.Notes),
		nullInt(m.CreatedBy), m.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepository) ListItemMovements(ctx context.Context, itemID int64) ([]Movement, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+movementColumns+` FROM stock_movements WHERE item_id=$1 ORDER BY id ASC`, itemID)
	if err != nil {
		return nil, err
	}
	return collectMovements(rows)
}

func (r *txRepository) ListMovementsByStockOut(ctx context.Context, stockOutID int64) ([]Movement, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+movementColumns+` FROM stock_movements WHERE stock_out_id=$1 ORDER BY id ASC`, stockOutID)
	if err != nil {
		return nil, err
	}
	return collectMovements(rows)
}

func (r *txRepository) FindFirstMovementByReference(ctx context.Context, ref string, itemID int64) (Movement, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+movementColumns+` FROM stock_movements WHERE reference_number=$1 AND item_id=$2 ORDER BY id ASC LIMIT 1`, ref, itemID)
	m, err := scanMovement(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Movement{}, ErrMovementNotFound
	}
	return m, err
}

func (r *txRepository) DeleteMovements(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.tx.Exec(ctx, `DELETE FROM stock_movements WHERE id = ANY($1)`, ids)
	return err
}

func (r *txRepository) InsertStockOut(ctx context.Context, so StockOut) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_outs (stock_out_type, item_id, quantity, out_date, note, branch_id, employee_id, reference_number, movement_id, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11) RETURNING id`,
		string(so.Type), so.ItemID, so.Quantity, so.Date, nullString(so.Note), nullInt(so.BranchID), nullInt(so.EmployeeID),
		nullString(so.ReferenceNumber), nullInt(so.MovementID), nullInt(so.CreatedBy), so.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepository) GetStockOutForUpdate(ctx context.Context, id int64) (StockOut, error) {
	return scanStockOut(r.tx.QueryRow(ctx, `SELECT `+stockOutColumns+` FROM stock_outs WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) UpdateStockOut(ctx context.Context, so StockOut) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_outs SET stock_out_type=$2, item_id=$3, quantity=$4, note=$5, branch_id=$6, employee_id=$7, movement_id=$8, updated_at=$9
WHERE id=$1`, so.ID, string(so.Type), so.ItemID, so.Quantity, nullString(so.Note), nullInt(so.BranchID), nullInt(so.EmployeeID),
		nullInt(so.MovementID), so.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStockOutNotFound
	}
	return nil
}

func (r *txRepository) DeleteStockOut(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM stock_outs WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStockOutNotFound
	}
	return nil
}

func scanItem(row pgx.Row) (Item, error) {
	var item Item
	err := row.Scan(&item.ID, &item.SKU, &item.Name, &item.CurrentStock, &item.MinimumStock, &item.MaximumStock, &item.ReorderLevel, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, err
	}
	return item, nil
}

func scanMovement(row pgx.Row) (Movement, error) {
	var m Movement
	var movementType, reasonType string
	err := row.Scan(&m.ID, &m.ItemID, &movementType, &m.Quantity, &m.PreviousStock, &m.NewStock, &m.ReferenceNumber,
		&m.Reason, &reasonType, &m.Recipient, &m.WarehouseID, &m.StockOutID, &m.Notes, &m.CreatedBy, &m.CreatedAt)
	if err != nil {
		return Movement{}, err
	}
	m.Type = MovementType(movementType)
	m.ReasonType = ReasonType(reasonType)
	return m, nil
}

func collectMovements(rows pgx.Rows) ([]Movement, error) {
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func scanStockOut(row pgx.Row) (StockOut, error) {
	var so StockOut
	var soType string
	err := row.Scan(&so.ID, &soType, &so.ItemID, &so.Quantity, &so.Date, &so.Note, &so.BranchID, &so.EmployeeID,
		&so.ReferenceNumber, &so.MovementID, &so.CreatedBy, &so.CreatedAt, &so.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockOut{}, ErrStockOutNotFound
		}
		return StockOut{}, err
	}
	so.Type = StockOutType(soType)
	return so, nil
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
