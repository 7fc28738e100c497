package follow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"followtrader/internal/agent"
	"followtrader/internal/broker"
	"followtrader/internal/models"
	"followtrader/internal/reconcile"
	"followtrader/internal/repository"
)

type fakeBroker struct {
	positions []broker.Position
	placed    []broker.OrderIntent
	placeErr  error
}

func (f *fakeBroker) GetPositions(ctx context.Context) ([]broker.Position, error) {
	return f.positions, nil
}

func (f *fakeBroker) PlaceOrder(ctx context.Context, intent broker.OrderIntent) (*broker.Fill, error) {
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	f.placed = append(f.placed, intent)
	return &broker.Fill{
		Symbol:   intent.Symbol,
		Side:     intent.Side,
		Action:   intent.Action,
		Quantity: intent.Quantity,
		Price:    intent.Price,
		Margin:   intent.Margin,
		Leverage: intent.Leverage,
		OrderID:  "fill-1",
		FilledAt: time.Now().UTC(),
	}, nil
}

func (f *fakeBroker) MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("no mark price")
}

type fakeLedger struct {
	fills    []broker.Fill
	realized map[string]decimal.Decimal
}

func (f *fakeLedger) Append(ctx context.Context, taskID, agentID string, fill broker.Fill) error {
	f.fills = append(f.fills, fill)
	return nil
}

func (f *fakeLedger) RealizedPnL(ctx context.Context, agentID, symbol string) (decimal.Decimal, error) {
	return f.realized[symbol], nil
}

type fakeRisk struct {
	reject map[string]*Rejection
}

func (f *fakeRisk) Validate(intent broker.OrderIntent, opts Options, usedMargin decimal.Decimal) *Rejection {
	if f.reject == nil {
		return nil
	}
	return f.reject[intent.Symbol]
}

func newTestExecutor(venue *fakeBroker, led *fakeLedger, rv RiskValidator) *Executor {
	return &Executor{
		Broker:          venue,
		Gate:            reconcile.NewGate(nil, nil, nil, reconcile.Tolerance{Price: dec("0.05"), Quantity: dec("0.05")}),
		Risk:            rv,
		Ledger:          led,
		QuantityEpsilon: dec("0.001"),
	}
}

func TestRunOpensTargetAndAppendsFill(t *testing.T) {
	venue := &fakeBroker{}
	led := &fakeLedger{}
	exec := newTestExecutor(venue, led, &fakeRisk{})

	targets := []agent.TargetPosition{
		{Symbol: "ETHUSDT", Side: broker.SideLong, Quantity: dec("2"), EntryPrice: dec("2500"), Leverage: 5},
	}
	opts := baseOptions()
	opts.TotalMargin = dec("2000")

	result, err := exec.Run(context.Background(), "task-1", "agent-1", targets, opts)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", result.Status)
	}
	if len(venue.placed) != 1 || venue.placed[0].Action != broker.ActionOpen {
		t.Fatalf("placed = %+v", venue.placed)
	}
	if len(led.fills) != 1 || led.fills[0].Symbol != "ETHUSDT" {
		t.Fatalf("ledger fills = %+v", led.fills)
	}
	if len(result.Fills) != 1 {
		t.Fatalf("result fills = %+v", result.Fills)
	}
}

// fakeRepo captures the order audit trail; the embedded interface panics on
// anything unexpected.
type fakeRepo struct {
	repository.Repository
	orders   []*models.Order
	statuses []string
}

func (f *fakeRepo) InsertOrder(ctx context.Context, item *models.Order) error {
	item.ID = uint64(len(f.orders) + 1)
	f.orders = append(f.orders, item)
	return nil
}

func (f *fakeRepo) UpdateOrderStatus(ctx context.Context, id uint64, status string, updates map[string]any) error {
	f.statuses = append(f.statuses, status)
	return nil
}

func TestRunRecordsOrderAuditTrail(t *testing.T) {
	venue := &fakeBroker{}
	repo := &fakeRepo{}
	exec := newTestExecutor(venue, &fakeLedger{}, &fakeRisk{})
	exec.Repo = repo

	targets := []agent.TargetPosition{
		{Symbol: "ETHUSDT", Side: broker.SideLong, Quantity: dec("2"), EntryPrice: dec("2500"), Leverage: 5},
	}
	opts := baseOptions()
	opts.TotalMargin = dec("2000")
	if _, err := exec.Run(context.Background(), "task-1", "agent-1", targets, opts); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if len(repo.orders) != 1 {
		t.Fatalf("orders = %+v", repo.orders)
	}
	order := repo.orders[0]
	if order.TaskID != "task-1" || order.Symbol != "ETHUSDT" {
		t.Fatalf("order = %+v", order)
	}
	if order.SubmittedAt == nil {
		t.Fatalf("submitted_at not recorded")
	}
	if len(repo.statuses) != 1 || repo.statuses[0] != "filled" {
		t.Fatalf("status transitions = %v", repo.statuses)
	}
}

func TestRunBlockedByReconciliation(t *testing.T) {
	venue := &fakeBroker{}
	exec := newTestExecutor(venue, &fakeLedger{}, &fakeRisk{})

	// First sight adopts an empty baseline.
	if _, err := exec.Run(context.Background(), "task-1", "agent-1", nil, baseOptions()); err != nil {
		t.Fatalf("baseline run failed: %v", err)
	}

	// A position appears out of nowhere: drift.
	venue.positions = []broker.Position{
		{Symbol: "BTCUSDT", Side: broker.SideLong, Quantity: dec("1"), EntryPrice: dec("60000"), Margin: dec("6000"), Leverage: 10},
	}
	targets := []agent.TargetPosition{
		{Symbol: "ETHUSDT", Side: broker.SideLong, Quantity: dec("2"), EntryPrice: dec("2500"), Leverage: 5},
	}
	result, err := exec.Run(context.Background(), "task-1", "agent-1", targets, baseOptions())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Status != StatusBlocked {
		t.Fatalf("status = %s, want blocked", result.Status)
	}
	if len(result.Divergences) == 0 {
		t.Fatalf("expected divergences")
	}
	if len(venue.placed) != 0 {
		t.Fatalf("no orders may be placed while blocked, got %+v", venue.placed)
	}
}

func TestRunRiskOnlyPlacesNothing(t *testing.T) {
	venue := &fakeBroker{}
	exec := newTestExecutor(venue, &fakeLedger{}, &fakeRisk{})

	opts := baseOptions()
	opts.RiskOnly = true
	targets := []agent.TargetPosition{
		{Symbol: "ETHUSDT", Side: broker.SideLong, Quantity: dec("2"), EntryPrice: dec("2500"), Leverage: 5},
	}
	result, err := exec.Run(context.Background(), "task-1", "agent-1", targets, opts)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Status != StatusDryRun {
		t.Fatalf("status = %s, want dry_run", result.Status)
	}
	if len(result.Planned) != 1 {
		t.Fatalf("planned = %+v", result.Planned)
	}
	if len(venue.placed) != 0 {
		t.Fatalf("dry run placed orders: %+v", venue.placed)
	}
}

func TestRunRecordsRejectionsWithoutExecuting(t *testing.T) {
	venue := &fakeBroker{}
	rv := &fakeRisk{reject: map[string]*Rejection{
		"ETHUSDT": {Code: "leverage_cap", Reason: "too high"},
	}}
	exec := newTestExecutor(venue, &fakeLedger{}, rv)

	targets := []agent.TargetPosition{
		{Symbol: "ETHUSDT", Side: broker.SideLong, Quantity: dec("2"), EntryPrice: dec("2500"), Leverage: 5},
		{Symbol: "BTCUSDT", Side: broker.SideLong, Quantity: dec("0.1"), EntryPrice: dec("60000"), Leverage: 5},
	}
	opts := baseOptions()
	opts.TotalMargin = dec("5000")
	result, err := exec.Run(context.Background(), "task-1", "agent-1", targets, opts)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", result.Status)
	}
	if len(result.Rejected) != 1 || result.Rejected[0].Rejection.Code != "leverage_cap" {
		t.Fatalf("rejected = %+v", result.Rejected)
	}
	if len(venue.placed) != 1 || venue.placed[0].Symbol != "BTCUSDT" {
		t.Fatalf("placed = %+v", venue.placed)
	}
}

func TestRunCredentialErrorAbortsCycle(t *testing.T) {
	venue := &fakeBroker{placeErr: &broker.CredentialError{Op: "order", Err: errors.New("bad key")}}
	exec := newTestExecutor(venue, &fakeLedger{}, &fakeRisk{})

	targets := []agent.TargetPosition{
		{Symbol: "ETHUSDT", Side: broker.SideLong, Quantity: dec("2"), EntryPrice: dec("2500"), Leverage: 5},
	}
	opts := baseOptions()
	opts.TotalMargin = dec("2000")
	result, err := exec.Run(context.Background(), "task-1", "agent-1", targets, opts)
	if err == nil {
		t.Fatalf("expected credential error")
	}
	if !broker.IsCredential(err) {
		t.Fatalf("error not classified as credential: %v", err)
	}
	if result == nil || result.Status != StatusPartial {
		t.Fatalf("result = %+v", result)
	}
}

func TestRunVenueRejectIsPartialFailure(t *testing.T) {
	venue := &fakeBroker{placeErr: &broker.VenueError{Op: "order", Status: 400, Code: -4164, Msg: "notional too small"}}
	exec := newTestExecutor(venue, &fakeLedger{}, &fakeRisk{})

	targets := []agent.TargetPosition{
		{Symbol: "ETHUSDT", Side: broker.SideLong, Quantity: dec("2"), EntryPrice: dec("2500"), Leverage: 5},
	}
	opts := baseOptions()
	opts.TotalMargin = dec("2000")
	result, err := exec.Run(context.Background(), "task-1", "agent-1", targets, opts)
	if err != nil {
		t.Fatalf("venue reject must not abort the cycle: %v", err)
	}
	if result.Status != StatusPartial {
		t.Fatalf("status = %s, want partial", result.Status)
	}
	if len(result.Failures) != 1 || result.Failures[0].Transient {
		t.Fatalf("failures = %+v", result.Failures)
	}
}

func TestRunCommitsExpectedSnapshot(t *testing.T) {
	venue := &fakeBroker{}
	exec := newTestExecutor(venue, &fakeLedger{}, &fakeRisk{})

	targets := []agent.TargetPosition{
		{Symbol: "ETHUSDT", Side: broker.SideLong, Quantity: dec("2"), EntryPrice: dec("2500"), Leverage: 5},
	}
	opts := baseOptions()
	opts.TotalMargin = dec("2000")
	if _, err := exec.Run(context.Background(), "task-1", "agent-1", targets, opts); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	// The venue now reports exactly what the cycle left behind; the next
	// run must proceed cleanly.
	venue.positions = []broker.Position{
		{Symbol: "ETHUSDT", Side: broker.SideLong, Quantity: dec("2"), EntryPrice: dec("2500"), MarkPrice: dec("2500"), Margin: dec("1000"), Leverage: 5},
	}
	result, err := exec.Run(context.Background(), "task-1", "agent-1", targets, opts)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed (divergences: %+v)", result.Status, result.Divergences)
	}
}
