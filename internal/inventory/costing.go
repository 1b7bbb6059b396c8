package inventory

import "github.com/shopspring/decimal"

// CostForCredit returns the unit cost applied to credit-producing movements:
// the weighted-average cost when set, else the list unit price, else zero.
// The value is copied onto the ledger entry so later revaluations never alter it.
func CostForCredit(item Item) decimal.Decimal {
	if item.AvgCost.Valid && !item.AvgCost.Decimal.IsZero() {
		return item.AvgCost.Decimal
	}
	if item.UnitPrice.Valid && !item.UnitPrice.Decimal.IsZero() {
		return item.UnitPrice.Decimal
	}
	return decimal.Zero
}

// AverageBasis is the oldAvg fed into a receipt's revaluation: the running
// average whenever one is stored, even zero. The list price only seeds an item
// that has never been averaged.
func AverageBasis(item Item) decimal.Decimal {
	if item.AvgCost.Valid {
		return item.AvgCost.Decimal
	}
	if item.UnitPrice.Valid {
		return item.UnitPrice.Decimal
	}
	return decimal.Zero
}

// WeightedAverage computes the moving average after receiving receivedQty at
// receivedCost on top of oldQty valued at oldAvg. A zero denominator keeps oldAvg.
func WeightedAverage(oldQty, oldAvg, receivedQty, receivedCost decimal.Decimal) decimal.Decimal {
	total := oldQty.Add(receivedQty)
	if total.IsZero() {
		return oldAvg
	}
	value := oldQty.Mul(oldAvg).Add(receivedQty.Mul(receivedCost))
	return value.DivRound(total, 4)
}
