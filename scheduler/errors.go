package scheduler

import (
	"fmt"

	"github.com/appscriptstudio/workflow-engine/domain"
)

// QuotaErrorKind is the admission-gate rejection reason.
type QuotaErrorKind string

const (
	ConcurrentExceeded QuotaErrorKind = "concurrent_exceeded"
	RateExceeded       QuotaErrorKind = "rate_exceeded"
	BudgetExceeded     QuotaErrorKind = "budget_exceeded"
)

// QuotaError is returned by Submit when an org's admission gate refuses a
// new execution. rate_exceeded and budget_exceeded are rejections, not
// queue entries; only a concurrency-only block is queued instead.
type QuotaError struct {
	Kind  QuotaErrorKind
	OrgID string
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("quota exceeded for org %s: %s", e.OrgID, e.Kind)
}

// AsDomainErr maps a QuotaError onto the module-wide error vocabulary's
// internal quota_exceeded kind, carrying the specific reason in Data
// for callers that want to distinguish the three gates.
func (e *QuotaError) AsDomainErr() *domain.Err {
	return &domain.Err{
		Kind:    domain.ErrQuotaExceeded,
		Message: e.Error(),
		Data:    map[string]any{"quotaKind": string(e.Kind)},
	}
}
