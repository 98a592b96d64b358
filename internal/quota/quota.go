// Package quota resolves account plans into effective transfer limits.
// Resolve is a pure function: the caller fetches the account record and
// passes the plan and any per-account overrides in; no I/O happens here.
package quota

// Plan is the account tier. Anonymous senders get a fixed, non-overridable
// limit set roughly equivalent to the free tier.
type Plan string

const (
	PlanAnonymous Plan = "anonymous"
	PlanFree      Plan = "free"
	PlanStarter   Plan = "starter"
	PlanPro       Plan = "pro"
	PlanBusiness  Plan = "business"
)

// Unlimited is the sentinel for "no cap" on StorageLimitBytes and
// MaxMonthlyTransfers. Never compare those fields numerically at call
// sites; use the Allows helpers instead.
const Unlimited int64 = -1

const (
	mb int64 = 1 << 20
	gb int64 = 1 << 30
)

// Limits is the effective limit set for one identity.
type Limits struct {
	StorageLimitBytes   int64
	MaxMonthlyTransfers int64
	MaxFilesPerTransfer int
	MaxFileBytes        int64
	RetentionDays       int
	PasswordProtection  bool
	CustomExpiry        bool
}

// Overrides are optional admin-granted per-account replacements for selected
// tier defaults. A nil pointer field means "use the tier default".
type Overrides struct {
	StorageLimitBytes   *int64
	MaxMonthlyTransfers *int64
	RetentionDays       *int
}

var planDefaults = map[Plan]Limits{
	PlanAnonymous: {
		StorageLimitBytes:   500 * mb,
		MaxMonthlyTransfers: 10,
		MaxFilesPerTransfer: 10,
		MaxFileBytes:        500 * mb,
		RetentionDays:       3,
		PasswordProtection:  false,
		CustomExpiry:        false,
	},
	PlanFree: {
		StorageLimitBytes:   500 * mb,
		MaxMonthlyTransfers: 20,
		MaxFilesPerTransfer: 20,
		MaxFileBytes:        500 * mb,
		RetentionDays:       7,
		PasswordProtection:  false,
		CustomExpiry:        false,
	},
	PlanStarter: {
		StorageLimitBytes:   50 * gb,
		MaxMonthlyTransfers: 200,
		MaxFilesPerTransfer: 100,
		MaxFileBytes:        10 * gb,
		RetentionDays:       30,
		PasswordProtection:  true,
		CustomExpiry:        true,
	},
	PlanPro: {
		StorageLimitBytes:   250 * gb,
		MaxMonthlyTransfers: Unlimited,
		MaxFilesPerTransfer: 500,
		MaxFileBytes:        25 * gb,
		RetentionDays:       90,
		PasswordProtection:  true,
		CustomExpiry:        true,
	},
	PlanBusiness: {
		StorageLimitBytes:   Unlimited,
		MaxMonthlyTransfers: Unlimited,
		MaxFilesPerTransfer: 1000,
		MaxFileBytes:        100 * gb,
		RetentionDays:       365,
		PasswordProtection:  true,
		CustomExpiry:        true,
	},
}

// Resolve returns the effective limits for a plan, applying overrides
// field-by-field. Unknown plans fall back to the free tier. Anonymous
// identities are never overridable; overrides are ignored for them.
func Resolve(plan Plan, o *Overrides) Limits {
	l, ok := planDefaults[plan]
	if !ok {
		l = planDefaults[PlanFree]
	}
	if o == nil || plan == PlanAnonymous {
		return l
	}
	if o.StorageLimitBytes != nil {
		l.StorageLimitBytes = *o.StorageLimitBytes
	}
	if o.MaxMonthlyTransfers != nil {
		l.MaxMonthlyTransfers = *o.MaxMonthlyTransfers
	}
	if o.RetentionDays != nil {
		l.RetentionDays = *o.RetentionDays
	}
	return l
}

// StorageAllows reports whether adding addBytes on top of usedBytes fits the
// storage cap. Usage exactly at the limit is allowed; one byte over is not.
func (l Limits) StorageAllows(usedBytes, addBytes int64) bool {
	if l.StorageLimitBytes == Unlimited {
		return true
	}
	return usedBytes+addBytes <= l.StorageLimitBytes
}

// TransferAllows reports whether one more transfer fits the monthly cap
// given usedTransfers already counted this window.
func (l Limits) TransferAllows(usedTransfers int64) bool {
	if l.MaxMonthlyTransfers == Unlimited {
		return true
	}
	return usedTransfers+1 <= l.MaxMonthlyTransfers
}

// FileCountAllows reports whether a manifest of n files fits the per-transfer
// file cap. A non-positive cap means unlimited.
func (l Limits) FileCountAllows(n int) bool {
	if l.MaxFilesPerTransfer <= 0 {
		return true
	}
	return n <= l.MaxFilesPerTransfer
}
