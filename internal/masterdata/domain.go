// Package masterdata resolves the branches, employees and warehouses that
// stock-outs point at. Records are maintained elsewhere; this package only reads.
package masterdata

// Branch is a company location stock can be transferred to.
type Branch struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// Employee is a person stock can be handed to.
type Employee struct {
	ID         int64  `json:"id"`
	EmployeeNo string `json:"employee_no"`
	Name       string `json:"name"`
	Active     bool   `json:"active"`
}

// Warehouse is a storage location referenced by movements.
type Warehouse struct {
	ID       int64  `json:"id"`
	BranchID int64  `json:"branch_id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
}
