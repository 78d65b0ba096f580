package masterdata

import "context"

// Lookup exposes display names for stock-out destinations.
type Lookup struct {
	repo *Repository
}

// NewLookup wraps repo.
func NewLookup(repo *Repository) *Lookup {
	return &Lookup{repo: repo}
}

// BranchName returns the branch name.
func (l *Lookup) BranchName(ctx context.Context, id int64) (string, error) {
	b, err := l.repo.GetBranch(ctx, id)
	if err != nil {
		return "", err
	}
	return b.Name, nil
}

// EmployeeName returns the employee name.
func (l *Lookup) EmployeeName(ctx context.Context, id int64) (string, error) {
	e, err := l.repo.GetEmployee(ctx, id)
	if err != nil {
		return "", err
	}
	return e.Name, nil
}

// WarehouseName returns the warehouse name.
func (l *Lookup) WarehouseName(ctx context.Context, id int64) (string, error) {
	w, err := l.repo.GetWarehouse(ctx, id)
	if err != nil {
		return "", err
	}
	return w.Name, nil
}
