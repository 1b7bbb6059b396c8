package returns

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-cmms/internal/shared"
)

// Status captures the return lifecycle. ACCEPTED and REJECTED are terminal.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusAccepted Status = "ACCEPTED"
	StatusRejected Status = "REJECTED"
)

// ItemReturn is a request to put previously issued stock back on the shelf.
// UnitCost and TotalCredit are set exactly when Status is ACCEPTED.
type ItemReturn struct {
	ID              int64
	CompanyID       int64
	ItemID          int64
	StoreID         int64
	Quantity        decimal.Decimal
	JobID           int64
	RequestLineID   int64
	Status          Status
	UnitCost        decimal.NullDecimal
	TotalCredit     decimal.NullDecimal
	Reason          string
	RequestedBy     int64
	RequestedAt     time.Time
	ResolvedStoreID int64
	ResolvedBy      int64
	ResolvedAt      *time.Time
}

// RequestInput creates a pending return.
type RequestInput struct {
	ItemID        int64
	StoreID       int64
	Quantity      decimal.Decimal
	JobID         int64
	RequestLineID int64
	Reason        string
}

// AcceptInput resolves a return into stock. StoreID overrides the return's store when set.
type AcceptInput struct {
	ReturnID int64
	StoreID  int64
}

// RejectInput closes a return without stock effects.
type RejectInput struct {
	ReturnID int64
	Reason   string
}

var (
	// ErrReturnNotFound indicates a missing return in the caller's company.
	ErrReturnNotFound = fmt.Errorf("%w: returns: return", shared.ErrNotFound)
	// ErrAlreadyProcessed indicates the return already left PENDING.
	ErrAlreadyProcessed = fmt.Errorf("%w: returns: return is not pending", shared.ErrAlreadyProcessed)
	// ErrRequestLineNotFound indicates a missing request line.
	ErrRequestLineNotFound = fmt.Errorf("%w: returns: request line", shared.ErrNotFound)
	// ErrInvalidQuantity indicates a non-positive return quantity.
	ErrInvalidQuantity = fmt.Errorf("%w: returns: quantity must be > 0", shared.ErrInvalidInput)
)

// resolverRoles may accept or reject returns.
var resolverRoles = []shared.Role{shared.RoleAdmin, shared.RoleManager, shared.RoleStorekeeper}
