package kyc

import "lv-paperdesk/internal/types"

// Policy gates order submission on the account's KYC status. Only approved
// accounts trade unless AllowPending admits pending and resubmitted ones.
type Policy struct {
	AllowPending bool
}

func NewPolicy(allowPending bool) Policy {
	return Policy{AllowPending: allowPending}
}

func (p Policy) Allows(status types.KYCStatus) bool {
	switch status {
	case types.KYCStatusApproved:
		return true
	case types.KYCStatusPending, types.KYCStatusResubmitted:
		return p.AllowPending
	}
	return false
}
