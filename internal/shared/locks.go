package shared

import "fmt"

// LedgerAuditLockKey builds the redis key guarding a ledger audit sweep.
func LedgerAuditLockKey(companyID int64) string {
	if companyID <= 0 {
		return "cmms:inventory:ledger-audit:all:lock"
	}
	return fmt.Sprintf("cmms:inventory:ledger-audit:%d:lock", companyID)
}
