package analysis

import (
	"errors"
	"fmt"

	"github.com/aman-churiwal/ioc-gateway/internal/quota"
)

var ErrUnknownProvider = errors.New("unknown provider")

// QuotaError carries the decision that denied the call so the caller can
// report the tenant's standing
type QuotaError struct {
	Decision quota.Decision
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("daily quota of %d calls exceeded for tier %s", e.Decision.Limit, e.Decision.Tier)
}

func (e *QuotaError) Unwrap() error {
	return quota.ErrQuotaExceeded
}
