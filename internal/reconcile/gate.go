package reconcile

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"followtrader/internal/apperr"
	"followtrader/internal/broker"
	"followtrader/internal/models"
	"followtrader/internal/repository"
)

type State string

const (
	StateClean             State = "clean"
	StateNeedsConfirmation State = "needs_confirmation"
	StateResolved          State = "resolved"
)

type Action string

const (
	ActionTrustActual    Action = "trust_actual"
	ActionRebuildHistory Action = "rebuild_history"
	ActionAbort          Action = "abort"
)

func ParseAction(raw string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(raw))) {
	case ActionTrustActual:
		return ActionTrustActual, nil
	case ActionRebuildHistory:
		return ActionRebuildHistory, nil
	case ActionAbort:
		return ActionAbort, nil
	default:
		return "", apperr.Validationf("unknown reconcile action %q", raw)
	}
}

// Divergence is one expected-vs-actual mismatch beyond tolerance.
type Divergence struct {
	Symbol   string `json:"symbol"`
	Field    string `json:"field"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

// Decision is the gate's answer for one cycle.
type Decision struct {
	Proceed     bool
	State       State
	Divergences []Divergence
}

// Status is the externally visible per-agent gate state.
type Status struct {
	AgentID     string       `json:"agent_id"`
	State       State        `json:"state"`
	Action      Action       `json:"action,omitempty"`
	DetectedAt  *time.Time   `json:"detected_at,omitempty"`
	ResolvedAt  *time.Time   `json:"resolved_at,omitempty"`
	Divergences []Divergence `json:"divergences,omitempty"`
}

// Rebaser rebuilds profit attribution from an adopted snapshot; the order
// ledger implements it.
type Rebaser interface {
	Rebase(ctx context.Context, agentID string, positions []broker.Position) error
}

type Tolerance struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// Gate guards every follow cycle: if the brokerage's actual positions have
// drifted from what the last cycle left behind, execution is suspended until
// an operator resolves the mismatch. Illegal paths (executing while
// unconfirmed) are unrepresentable: the executor only ever sees a Decision.
type Gate struct {
	Repo      repository.Repository
	Rebaser   Rebaser
	Logger    *zap.Logger
	Tolerance Tolerance

	mu     sync.Mutex
	agents map[string]*agentState
}

type expectedPosition struct {
	Side       broker.Side
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
}

type agentState struct {
	state       State
	action      Action
	expected    map[string]expectedPosition
	divergences []Divergence
	detectedAt  time.Time
	resolvedAt  time.Time
}

func NewGate(repo repository.Repository, rebaser Rebaser, logger *zap.Logger, tol Tolerance) *Gate {
	return &Gate{
		Repo:      repo,
		Rebaser:   rebaser,
		Logger:    logger,
		Tolerance: tol,
		agents:    map[string]*agentState{},
	}
}

// Check compares actual brokerage positions against the last expected
// snapshot. The first observation of an agent adopts actual as the trusted
// baseline.
func (g *Gate) Check(ctx context.Context, agentID string, actual []broker.Position) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := g.agents[agentID]
	if st == nil {
		st = &agentState{state: StateClean, expected: snapshot(actual)}
		g.agents[agentID] = st
		g.recordEvent(ctx, agentID, "baseline", StateClean, "", nil)
		return Decision{Proceed: true, State: StateClean}
	}

	switch st.state {
	case StateNeedsConfirmation:
		return Decision{Proceed: false, State: st.state, Divergences: st.divergences}
	case StateResolved:
		if st.action == ActionAbort {
			return Decision{Proceed: false, State: st.state, Divergences: st.divergences}
		}
	}

	divs := diffSnapshot(st.expected, actual, g.Tolerance)
	if len(divs) > 0 {
		st.state = StateNeedsConfirmation
		st.divergences = divs
		st.detectedAt = time.Now().UTC()
		g.recordEvent(ctx, agentID, "detected", st.state, "", divs)
		if g.Logger != nil {
			g.Logger.Warn("reconcile: divergence detected",
				zap.String("agent_id", agentID),
				zap.Int("divergences", len(divs)),
			)
		}
		return Decision{Proceed: false, State: st.state, Divergences: divs}
	}

	st.state = StateClean
	st.divergences = nil
	return Decision{Proceed: true, State: StateClean}
}

// Commit records the post-cycle position book as the expected snapshot for
// the next Check.
func (g *Gate) Commit(agentID string, expected []broker.Position) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.agents[agentID]
	if st == nil {
		st = &agentState{state: StateClean}
		g.agents[agentID] = st
	}
	st.expected = snapshot(expected)
	st.state = StateClean
	st.divergences = nil
}

// Resolve applies an operator decision. trust_actual and rebuild_history
// unblock the agent immediately; abort keeps every tick blocked until a
// different resolution arrives.
func (g *Gate) Resolve(ctx context.Context, agentID string, action Action, actual []broker.Position) (Status, error) {
	g.mu.Lock()
	st := g.agents[agentID]
	g.mu.Unlock()
	if st == nil {
		return Status{}, apperr.NotFound("agent", agentID)
	}

	switch action {
	case ActionTrustActual:
		// Adopt what the venue says and carry on from there.
	case ActionRebuildHistory:
		if g.Rebaser != nil {
			if err := g.Rebaser.Rebase(ctx, agentID, actual); err != nil {
				return Status{}, err
			}
		}
	case ActionAbort:
		// Sticky block, handled below.
	default:
		return Status{}, apperr.Validationf("unknown reconcile action %q", string(action))
	}

	g.mu.Lock()
	now := time.Now().UTC()
	st.action = action
	st.resolvedAt = now
	if action == ActionAbort {
		st.state = StateResolved
	} else {
		st.state = StateClean
		st.expected = snapshot(actual)
		st.divergences = nil
	}
	status := g.statusLocked(agentID, st)
	g.mu.Unlock()

	g.recordEvent(ctx, agentID, "resolved", status.State, action, nil)
	if g.Logger != nil {
		g.Logger.Info("reconcile: resolved",
			zap.String("agent_id", agentID),
			zap.String("action", string(action)),
			zap.String("state", string(status.State)),
		)
	}
	return status, nil
}

func (g *Gate) Status(agentID string) (Status, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.agents[agentID]
	if st == nil {
		return Status{}, apperr.NotFound("agent", agentID)
	}
	return g.statusLocked(agentID, st), nil
}

func (g *Gate) statusLocked(agentID string, st *agentState) Status {
	out := Status{
		AgentID:     agentID,
		State:       st.state,
		Action:      st.action,
		Divergences: st.divergences,
	}
	if !st.detectedAt.IsZero() {
		t := st.detectedAt
		out.DetectedAt = &t
	}
	if !st.resolvedAt.IsZero() {
		t := st.resolvedAt
		out.ResolvedAt = &t
	}
	return out
}

func (g *Gate) recordEvent(ctx context.Context, agentID, kind string, state State, action Action, divs []Divergence) {
	if g.Repo == nil {
		return
	}
	var payload datatypes.JSON
	if len(divs) > 0 {
		raw, err := json.Marshal(divs)
		if err == nil {
			payload = datatypes.JSON(raw)
		}
	}
	_ = g.Repo.InsertReconcileEvent(ctx, &models.ReconcileEvent{
		AgentID:     agentID,
		Kind:        kind,
		State:       string(state),
		Action:      string(action),
		Divergences: payload,
		CreatedAt:   time.Now().UTC(),
	})
}

func snapshot(positions []broker.Position) map[string]expectedPosition {
	out := make(map[string]expectedPosition, len(positions))
	for _, pos := range positions {
		if pos.Symbol == "" || pos.Quantity.LessThanOrEqual(decimal.Zero) {
			continue
		}
		out[pos.Symbol] = expectedPosition{
			Side:       pos.Side,
			Quantity:   pos.Quantity,
			EntryPrice: pos.EntryPrice,
		}
	}
	return out
}

// diffSnapshot is pure; tolerances are relative fractions.
func diffSnapshot(expected map[string]expectedPosition, actual []broker.Position, tol Tolerance) []Divergence {
	var out []Divergence
	seen := map[string]struct{}{}
	for _, pos := range actual {
		if pos.Symbol == "" || pos.Quantity.LessThanOrEqual(decimal.Zero) {
			continue
		}
		seen[pos.Symbol] = struct{}{}
		exp, ok := expected[pos.Symbol]
		if !ok {
			out = append(out, Divergence{Symbol: pos.Symbol, Field: "unexpected", Actual: pos.Quantity.String()})
			continue
		}
		if exp.Side != pos.Side {
			out = append(out, Divergence{Symbol: pos.Symbol, Field: "side", Expected: string(exp.Side), Actual: string(pos.Side)})
			continue
		}
		if outsideTolerance(exp.Quantity, pos.Quantity, tol.Quantity) {
			out = append(out, Divergence{Symbol: pos.Symbol, Field: "quantity", Expected: exp.Quantity.String(), Actual: pos.Quantity.String()})
		}
		if outsideTolerance(exp.EntryPrice, pos.EntryPrice, tol.Price) {
			out = append(out, Divergence{Symbol: pos.Symbol, Field: "entry_price", Expected: exp.EntryPrice.String(), Actual: pos.EntryPrice.String()})
		}
	}
	for symbol, exp := range expected {
		if _, ok := seen[symbol]; !ok {
			out = append(out, Divergence{Symbol: symbol, Field: "missing", Expected: exp.Quantity.String()})
		}
	}
	return out
}

func outsideTolerance(expected, actual, tolerance decimal.Decimal) bool {
	diff := actual.Sub(expected).Abs()
	if expected.IsZero() {
		return !diff.IsZero()
	}
	return diff.Div(expected.Abs()).GreaterThan(tolerance)
}
