package downloader

import (
	"fmt"
	"time"

	"github.com/italolelis/batch_downloader/internal/media"
)

// Action is what a worker does after a failed attempt.
type Action int

const (
	ActionRetry Action = iota
	ActionSkip
	ActionFail
)

func (a Action) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionSkip:
		return "skip"
	default:
		return "fail"
	}
}

// Decision is the outcome of RetryPolicy.Decide.
type Decision struct {
	Action Action
	Delay  time.Duration
	// ConsumesRetry is false for server mandated waits.
	ConsumesRetry bool
	Reason        string
}

// RetryPolicy classifies attempt errors into retry, skip or fail.
type RetryPolicy struct {
	MaxRetries          int
	RetryDelay          time.Duration
	AutoHandleRateLimit bool
}

// NewRetryPolicy builds the policy from cfg.
func NewRetryPolicy(cfg PerformanceConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries:          cfg.MaxRetriesPerFile,
		RetryDelay:          cfg.RetryDelay,
		AutoHandleRateLimit: cfg.AutoHandleRateLimit,
	}
}

// Decide returns the action for err given retries already consumed.
// A task is attempted at most MaxRetries+1 times, not counting rate limit
// waits.
func (p RetryPolicy) Decide(err error, retryCount int) Decision {
	class := media.Classify(err)

	switch class {
	case media.ClassCancelled:
		return Decision{Action: ActionSkip, Reason: "cancelled"}
	case media.ClassNotFound:
		return Decision{Action: ActionSkip, Reason: "not found"}
	case media.ClassPermission:
		return Decision{Action: ActionSkip, Reason: "permission denied"}
	case media.ClassRateLimited:
		wait, _ := media.RetryAfter(err)
		if !p.AutoHandleRateLimit {
			return Decision{Action: ActionFail, Delay: wait, Reason: fmt.Sprintf("rate limited, retry after %s", wait)}
		}

		return Decision{Action: ActionRetry, Delay: wait, Reason: "rate limited"}
	}

	if retryCount+1 > p.MaxRetries {
		return Decision{Action: ActionFail, Reason: fmt.Sprintf("%s error after %d attempts", class, retryCount+1)}
	}

	return Decision{Action: ActionRetry, Delay: p.RetryDelay, ConsumesRetry: true, Reason: class.String()}
}
