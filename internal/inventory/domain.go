package inventory

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-cmms/internal/shared"
)

// MovementType enumerates supported inventory movements.
type MovementType string

const (
	// MovementReceipt brings purchased stock in and revalues the item's average cost.
	MovementReceipt MovementType = "RECEIPT"
	// MovementIssue takes stock out to a job or request.
	MovementIssue MovementType = "ISSUE"
	// MovementReturn brings previously issued stock back.
	MovementReturn MovementType = "RETURN"
	// MovementAdjustment corrects a count in either direction.
	MovementAdjustment MovementType = "ADJUSTMENT"
	// MovementTransferIn receives stock from another store.
	MovementTransferIn MovementType = "TRANSFER_IN"
	// MovementTransferOut sends stock to another store.
	MovementTransferOut MovementType = "TRANSFER_OUT"
)

// MovementTypes lists every movement type.
func MovementTypes() []MovementType {
	return []MovementType{MovementReceipt, MovementIssue, MovementReturn, MovementAdjustment, MovementTransferIn, MovementTransferOut}
}

// Direction returns +1 for inbound types, -1 for outbound types and 0 when
// either sign is allowed. Unknown types report ok=false.
func (t MovementType) Direction() (sign int, ok bool) {
	switch t {
	case MovementReceipt, MovementReturn, MovementTransferIn:
		return 1, true
	case MovementIssue, MovementTransferOut:
		return -1, true
	case MovementAdjustment:
		return 0, true
	}
	return 0, false
}

// RecomputesAverage reports whether the movement updates the weighted-average cost.
func (t MovementType) RecomputesAverage() bool {
	return t == MovementReceipt
}

// ReferenceType enumerates documents a movement can originate from.
type ReferenceType string

const (
	ReferenceRequest         ReferenceType = "REQUEST"
	ReferenceRequestLine     ReferenceType = "REQUEST_LINE"
	ReferenceReturn          ReferenceType = "RETURN"
	ReferencePurchaseReceipt ReferenceType = "PURCHASE_RECEIPT"
	ReferenceJob             ReferenceType = "JOB"
	ReferenceAdjustment      ReferenceType = "ADJUSTMENT"
	ReferenceTransfer        ReferenceType = "TRANSFER"
)

// Valid reports whether the reference type is known.
func (t ReferenceType) Valid() bool {
	switch t {
	case ReferenceRequest, ReferenceRequestLine, ReferenceReturn, ReferencePurchaseReceipt,
		ReferenceJob, ReferenceAdjustment, ReferenceTransfer:
		return true
	}
	return false
}

// Reference points at the document that caused a movement.
type Reference struct {
	Type ReferenceType
	ID   int64
}

// ValuationMethod names the costing policy of an item.
type ValuationMethod string

// ValuationWeightedAverage is the only method the costing engine applies.
const ValuationWeightedAverage ValuationMethod = "WEIGHTED_AVERAGE"

// Item is a stock keeping unit. AvgCost is written only by the costing engine.
type Item struct {
	ID              int64
	CompanyID       int64
	Code            string
	Description     string
	UnitOfMeasure   string
	Category        string
	ValuationMethod ValuationMethod
	UnitPrice       decimal.NullDecimal
	AvgCost         decimal.NullDecimal
	MinStock        decimal.NullDecimal
	MaxStock        decimal.NullDecimal
}

// ItemStock is the on-hand quantity of one item at one store.
type ItemStock struct {
	ID        int64
	CompanyID int64
	ItemID    int64
	StoreID   int64
	Quantity  decimal.Decimal
	UpdatedAt time.Time
}

// LedgerEntry is an immutable record of one movement.
type LedgerEntry struct {
	ID           int64
	Code         string
	CompanyID    int64
	ItemID       int64
	StoreID      int64
	Type         MovementType
	Quantity     decimal.Decimal
	BalanceAfter decimal.Decimal
	UnitCost     decimal.Decimal
	TotalValue   decimal.Decimal
	Reference    Reference
	CreatedBy    int64
	CreatedAt    time.Time
}

// Movement describes a request to post one ledger entry. Quantity is signed.
// When UnitCost is absent the item's current costing value is used.
type Movement struct {
	CompanyID int64
	ItemID    int64
	StoreID   int64
	Type      MovementType
	Quantity  decimal.Decimal
	UnitCost  decimal.NullDecimal
	Reference Reference
	ActorID   int64
}

func (m Movement) validate() error {
	if m.CompanyID <= 0 || m.ItemID <= 0 || m.StoreID <= 0 {
		return fmt.Errorf("%w: company, item and store required", shared.ErrInvalidInput)
	}
	sign, ok := m.Type.Direction()
	if !ok {
		return fmt.Errorf("%w: unknown movement type %q", shared.ErrInvalidInput, m.Type)
	}
	if m.Quantity.IsZero() {
		return ErrInvalidQuantity
	}
	if sign != 0 && m.Quantity.Sign() != sign {
		return fmt.Errorf("%w: %s quantity %s has the wrong sign", shared.ErrInvalidInput, m.Type, m.Quantity)
	}
	if m.UnitCost.Valid && m.UnitCost.Decimal.IsNegative() {
		return ErrInvalidUnitCost
	}
	if !m.Reference.Type.Valid() {
		return fmt.Errorf("%w: unknown reference type %q", shared.ErrInvalidInput, m.Reference.Type)
	}
	if m.Reference.ID <= 0 {
		return fmt.Errorf("%w: reference id required", shared.ErrInvalidInput)
	}
	if m.ActorID <= 0 {
		return fmt.Errorf("%w: acting user required", shared.ErrInvalidInput)
	}
	return nil
}

// ChainBreak marks a ledger entry whose balance does not follow from its predecessor.
type ChainBreak struct {
	EntryID  int64
	Code     string
	Expected decimal.Decimal
	Actual   decimal.Decimal
}

// ReconcileReport compares an ItemStock row with its ledger.
type ReconcileReport struct {
	CompanyID     int64
	ItemID        int64
	StoreID       int64
	StockQuantity decimal.Decimal
	LedgerSum     decimal.Decimal
	LastBalance   decimal.Decimal
	Entries       int
	Breaks        []ChainBreak
}

// Consistent reports whether stock, ledger sum and last balance agree and the chain is unbroken.
func (r ReconcileReport) Consistent() bool {
	return len(r.Breaks) == 0 && r.StockQuantity.Equal(r.LedgerSum) && r.StockQuantity.Equal(r.LastBalance)
}

var (
	// ErrInsufficientStock is returned when a movement would drive a balance below zero.
	ErrInsufficientStock = fmt.Errorf("%w: inventory: insufficient stock", shared.ErrInvariantViolation)
	// ErrStockRecordNotFound is returned when no ItemStock row exists for the pair.
	ErrStockRecordNotFound = fmt.Errorf("%w: inventory: stock record", shared.ErrNotFound)
	// ErrItemNotFound indicates a missing item in the caller's company.
	ErrItemNotFound = fmt.Errorf("%w: inventory: item", shared.ErrNotFound)
	// ErrStoreNotFound indicates a missing store in the caller's company.
	ErrStoreNotFound = fmt.Errorf("%w: inventory: store", shared.ErrNotFound)
	// ErrStockExists indicates OpenStock was called for an existing pair.
	ErrStockExists = fmt.Errorf("%w: inventory: stock record exists", shared.ErrAlreadyProcessed)
	// ErrInvalidQuantity indicates a zero quantity.
	ErrInvalidQuantity = fmt.Errorf("%w: inventory: quantity must be non zero", shared.ErrInvalidInput)
	// ErrInvalidUnitCost indicates a negative cost.
	ErrInvalidUnitCost = fmt.Errorf("%w: inventory: unit cost must be >= 0", shared.ErrInvalidInput)
)
