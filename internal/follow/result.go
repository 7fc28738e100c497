package follow

import (
	"time"

	"github.com/shopspring/decimal"

	"followtrader/internal/broker"
	"followtrader/internal/reconcile"
)

// Rejection explains why the risk layer dropped an intent. A nil Rejection
// means the intent passed every check.
type Rejection struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

func (r *Rejection) String() string {
	if r == nil {
		return ""
	}
	return r.Code + ": " + r.Reason
}

// RiskValidator vets one intent against the task options. usedMargin is the
// margin already committed by earlier intents in the same cycle.
type RiskValidator interface {
	Validate(intent broker.OrderIntent, opts Options, usedMargin decimal.Decimal) *Rejection
}

type ResultStatus string

const (
	StatusCompleted ResultStatus = "completed"
	StatusPartial   ResultStatus = "partial"
	StatusBlocked   ResultStatus = "blocked"
	StatusDryRun    ResultStatus = "dry_run"
)

// RejectedIntent pairs a planned intent with the risk rejection that
// stopped it.
type RejectedIntent struct {
	Intent    broker.OrderIntent `json:"intent"`
	Rejection Rejection          `json:"rejection"`
}

// FailedIntent is an intent the venue refused or lost.
type FailedIntent struct {
	Intent    broker.OrderIntent `json:"intent"`
	Error     string             `json:"error"`
	Transient bool               `json:"transient"`
}

// Result is the full account of one follow cycle.
type Result struct {
	TaskID      string                 `json:"task_id"`
	AgentID     string                 `json:"agent_id"`
	Status      ResultStatus           `json:"status"`
	Planned     []broker.OrderIntent   `json:"planned,omitempty"`
	Rejected    []RejectedIntent       `json:"rejected,omitempty"`
	Fills       []broker.Fill          `json:"fills,omitempty"`
	Failures    []FailedIntent         `json:"failures,omitempty"`
	Divergences []reconcile.Divergence `json:"divergences,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	FinishedAt  time.Time              `json:"finished_at"`
}
