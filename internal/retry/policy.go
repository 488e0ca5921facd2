package retry

import "time"

// Policy decides whether a failed enrichment job gets another delivery and
// how long the broker should hold it first. Delay grows linearly with the
// attempt number: base, 2*base, 3*base. Once MaxRetries deliveries have
// failed after the initial one, the job is terminal.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

func NewPolicy(maxRetries int, baseDelay time.Duration) Policy {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if baseDelay <= 0 {
		baseDelay = 60 * time.Second
	}
	return Policy{MaxRetries: maxRetries, BaseDelay: baseDelay}
}

// Next returns the redelivery delay for a message whose attempt counter (the
// number of failed deliveries so far) is attempt. ok is false when the retry
// budget is spent and the job must go terminal instead.
func (p Policy) Next(attempt int) (delay time.Duration, ok bool) {
	if attempt >= p.MaxRetries {
		return 0, false
	}
	return time.Duration(attempt+1) * p.BaseDelay, true
}
