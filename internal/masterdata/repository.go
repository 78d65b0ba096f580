package masterdata

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Querier is the subset of pgxpool.Pool used by Repository.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository reads master data from PostgreSQL.
type Repository struct {
	db Querier
}

// NewRepository constructs Repository.
func NewRepository(db Querier) *Repository {
	return &Repository{db: db}
}

// GetBranch loads a branch; unknown ids return shared.ErrNotFound.
func (r *Repository) GetBranch(ctx context.Context, id int64) (Branch, error) {
	var b Branch
	err := r.db.QueryRow(ctx, `SELECT id, code, name FROM branches WHERE id = $1`, id).Scan(&b.ID, &b.Code, &b.Name)
	return b, notFound(err, "branch", id)
}

// GetEmployee loads an active employee; inactive or unknown ids return shared.ErrNotFound.
func (r *Repository) GetEmployee(ctx context.Context, id int64) (Employee, error) {
	var e Employee
	err := r.db.QueryRow(ctx, `SELECT id, employee_no, name, active FROM employees WHERE id = $1 AND active`, id).
		Scan(&e.ID, &e.EmployeeNo, &e.Name, &e.Active)
	return e, notFound(err, "employee", id)
}

// GetWarehouse loads a warehouse; unknown ids return shared.ErrNotFound.
func (r *Repository) GetWarehouse(ctx context.Context, id int64) (Warehouse, error) {
	var w Warehouse
	err := r.db.QueryRow(ctx, `SELECT id, COALESCE(branch_id, 0), code, name FROM warehouses WHERE id = $1`, id).
		Scan(&w.ID, &w.BranchID, &w.Code, &w.Name)
	return w, notFound(err, "warehouse", id)
}

func notFound(err error, kind string, id int64) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("masterdata: %s %d: %w", kind, id, shared.ErrNotFound)
	}
	return fmt.Errorf("masterdata: get %s: %w", kind, err)
}
