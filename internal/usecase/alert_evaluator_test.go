package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"MarketPull/internal/domain/models"
	"MarketPull/internal/domain/service"
	"MarketPull/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScanRunner struct {
	result *models.ScanResult
	err    error
	reqs   []models.ScanRequest
}

func (f *fakeScanRunner) RunScan(_ context.Context, req models.ScanRequest) (*models.ScanResult, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	ok   bool
	sent []service.AlertEmail
}

func (f *fakeNotifier) SendAlertTriggered(_ context.Context, email service.AlertEmail) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, email)
	return f.ok
}

type fakeEvents struct {
	events []service.AlertTriggeredEvent
}

func (f *fakeEvents) AlertTriggered(_ context.Context, ev service.AlertTriggeredEvent) error {
	f.events = append(f.events, ev)
	return nil
}

func ptr[T any](v T) *T { return &v }

type alertFixture struct {
	st       *testStore
	eval     *AlertEvaluator
	scanner  *fakeScanRunner
	notifier *fakeNotifier
	events   *fakeEvents
	now      time.Time
}

func newAlertFixture(t *testing.T) *alertFixture {
	st := newTestStore(t)
	f := &alertFixture{
		st:       st,
		scanner:  &fakeScanRunner{result: &models.ScanResult{}},
		notifier: &fakeNotifier{ok: true},
		events:   &fakeEvents{},
		now:      time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC),
	}
	f.eval = NewAlertEvaluator(AlertEvaluatorDeps{
		Alerts:   st.alerts,
		Symbols:  st.symbols,
		Candles:  st.candles,
		Scans:    st.scans,
		Scanner:  f.scanner,
		Notifier: f.notifier,
		Events:   f.events,
	}, logger.NewNop())
	f.eval.now = func() time.Time { return f.now }
	return f
}

func (f *alertFixture) addAlert(t *testing.T, a models.Alert) *models.Alert {
	t.Helper()
	if a.Status == "" {
		a.Status = models.AlertActive
	}
	if a.UserID == 0 {
		a.UserID = 1
	}
	require.NoError(t, f.st.db.Create(&a).Error)
	return &a
}

func (f *alertFixture) reload(t *testing.T, id uint) models.Alert {
	t.Helper()
	var a models.Alert
	require.NoError(t, f.st.db.First(&a, id).Error)
	return a
}

func priceCross(dir models.Direction, threshold float64) models.Alert {
	return models.Alert{
		Type:      models.AlertPriceCross,
		Ticker:    ptr("AAPL"),
		Condition: models.AlertCondition{Direction: dir, Threshold: ptr(threshold)},
	}
}

func percentAlert(dir models.Direction, pct float64) models.Alert {
	return models.Alert{
		Type:      models.AlertPercentChange,
		Ticker:    ptr("AAPL"),
		Condition: models.AlertCondition{Direction: dir, PercentChange: ptr(pct)},
	}
}

func TestAlertEvaluator_PriceCrossIsStrict(t *testing.T) {
	cases := []struct {
		name      string
		dir       models.Direction
		prev, cur float64
		want      bool
	}{
		{"crosses above", models.DirectionAbove, 99, 101, true},
		{"already above", models.DirectionAbove, 101, 102, false},
		{"still below", models.DirectionAbove, 98, 99, false},
		{"crosses below", models.DirectionBelow, 101, 99, true},
		{"already below", models.DirectionBelow, 99, 98, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newAlertFixture(t)
			seedCloses(t, f.st, "AAPL", 10, tc.prev, tc.cur)
			a := f.addAlert(t, priceCross(tc.dir, 100))

			summary, err := f.eval.Evaluate(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, summary.Evaluated)
			assert.Equal(t, tc.want, summary.Outcomes[0].Triggered)

			reloaded := f.reload(t, a.ID)
			if tc.want {
				assert.Equal(t, 1, summary.Triggered)
				assert.Equal(t, models.AlertTriggered, reloaded.Status)
				assert.NotNil(t, reloaded.TriggeredAt)
			} else {
				assert.Equal(t, models.AlertActive, reloaded.Status)
			}
		})
	}
}

func TestAlertEvaluator_PercentChangeDirection(t *testing.T) {
	cases := []struct {
		name      string
		dir       models.Direction
		prev, cur float64
		want      bool
	}{
		{"up exactly threshold", models.DirectionAbove, 100, 105, true},
		{"up short of threshold", models.DirectionAbove, 100, 104, false},
		{"down when up expected", models.DirectionAbove, 100, 90, false},
		{"down exactly threshold", models.DirectionBelow, 100, 95, true},
		{"down short of threshold", models.DirectionBelow, 100, 96, false},
		{"up when down expected", models.DirectionBelow, 100, 110, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newAlertFixture(t)
			seedCloses(t, f.st, "AAPL", 10, tc.prev, tc.cur)
			f.addAlert(t, percentAlert(tc.dir, 5))

			summary, err := f.eval.Evaluate(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.want, summary.Outcomes[0].Triggered)
		})
	}
}

func TestAlertEvaluator_InsufficientData(t *testing.T) {
	f := newAlertFixture(t)
	seedCloses(t, f.st, "AAPL", 10, 101)
	f.addAlert(t, priceCross(models.DirectionAbove, 100))
	f.addAlert(t, percentAlert(models.DirectionAbove, 1))
	unknown := priceCross(models.DirectionAbove, 100)
	unknown.Ticker = ptr("NOPE")
	f.addAlert(t, unknown)

	summary, err := f.eval.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Evaluated)
	assert.Equal(t, 0, summary.Triggered)
	assert.Equal(t, 0, summary.Errors)
	for _, o := range summary.Outcomes {
		assert.False(t, o.Triggered)
		assert.Equal(t, "not enough candle data", o.Reason)
	}
}

func TestAlertEvaluator_InvalidConditionsDoNotFail(t *testing.T) {
	f := newAlertFixture(t)
	seedCloses(t, f.st, "AAPL", 10, 99, 101)
	noTicker := priceCross(models.DirectionAbove, 100)
	noTicker.Ticker = nil
	f.addAlert(t, noTicker)
	noThreshold := priceCross(models.DirectionAbove, 100)
	noThreshold.Condition.Threshold = nil
	f.addAlert(t, noThreshold)
	f.addAlert(t, models.Alert{Type: models.AlertScanMatch})

	summary, err := f.eval.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Evaluated)
	assert.Equal(t, 0, summary.Triggered)
	assert.Equal(t, "missing ticker", summary.Outcomes[0].Reason)
	assert.Equal(t, "invalid threshold", summary.Outcomes[1].Reason)
	assert.Equal(t, "missing scan reference", summary.Outcomes[2].Reason)
}

func TestAlertEvaluator_ScanMatchDelegates(t *testing.T) {
	f := newAlertFixture(t)
	scan := &models.SavedScan{
		UserID:   1,
		Name:     "breakouts",
		Filters:  json.RawMessage(`[{"field":"rsi","op":">","value":70}]`),
		Logic:    "AND",
		Universe: []string{"AAPL", "MSFT"},
	}
	require.NoError(t, f.st.db.Create(scan).Error)
	a := f.addAlert(t, models.Alert{
		Type:      models.AlertScanMatch,
		Condition: models.AlertCondition{ScanID: ptr(scan.ID)},
	})
	f.scanner.result = &models.ScanResult{Matches: []models.ScanMatch{{Symbol: "MSFT"}}, Total: 1}

	summary, err := f.eval.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Triggered)
	assert.Equal(t, []string{"MSFT"}, summary.Outcomes[0].MatchedSymbols)
	require.Len(t, f.scanner.reqs, 1)
	assert.Equal(t, []string{"AAPL", "MSFT"}, f.scanner.reqs[0].Symbols)
	assert.Equal(t, "AND", f.scanner.reqs[0].Logic)

	history, err := f.st.alerts.History(context.Background(), a.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, []string{"MSFT"}, history[0].MatchedSymbols)
}

func TestAlertEvaluator_ScanFailureIsCounted(t *testing.T) {
	f := newAlertFixture(t)
	scan := &models.SavedScan{UserID: 1, Logic: "AND"}
	require.NoError(t, f.st.db.Create(scan).Error)
	f.addAlert(t, models.Alert{Type: models.AlertScanMatch, Condition: models.AlertCondition{ScanID: ptr(scan.ID)}})
	seedCloses(t, f.st, "AAPL", 10, 99, 101)
	f.addAlert(t, priceCross(models.DirectionAbove, 100))
	f.scanner.err = errors.New("scan service unavailable")

	summary, err := f.eval.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Evaluated)
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 1, summary.Triggered)
}

func TestAlertEvaluator_NotificationFailureDoesNotBlock(t *testing.T) {
	f := newAlertFixture(t)
	f.notifier.ok = false
	seedCloses(t, f.st, "AAPL", 10, 99, 101)
	a := priceCross(models.DirectionAbove, 100)
	a.NotifyEmail = true
	a.Email = ptr("ann@example.com")
	a.Name = "AAPL breaks 100"
	stored := f.addAlert(t, a)

	summary, err := f.eval.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Triggered)
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "ann@example.com", f.notifier.sent[0].To)
	assert.Equal(t, "AAPL breaks 100", f.notifier.sent[0].AlertName)

	history, err := f.st.alerts.History(context.Background(), stored.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].NotificationSent)
	assert.Equal(t, models.AlertTriggered, f.reload(t, stored.ID).Status)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, stored.ID, f.events.events[0].AlertID)
}

func TestAlertEvaluator_NotifiesOnlyWhenAsked(t *testing.T) {
	f := newAlertFixture(t)
	seedCloses(t, f.st, "AAPL", 10, 99, 101)
	noFlag := priceCross(models.DirectionAbove, 100)
	noFlag.Email = ptr("ann@example.com")
	f.addAlert(t, noFlag)
	noAddress := priceCross(models.DirectionAbove, 100)
	noAddress.NotifyEmail = true
	f.addAlert(t, noAddress)

	summary, err := f.eval.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Triggered)
	assert.Empty(t, f.notifier.sent)
}

func TestAlertEvaluator_TriggeredAlertsAreNotReevaluated(t *testing.T) {
	f := newAlertFixture(t)
	seedCloses(t, f.st, "AAPL", 10, 99, 101)
	f.addAlert(t, priceCross(models.DirectionAbove, 100))

	first, err := f.eval.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Triggered)

	second, err := f.eval.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Evaluated)
}

func TestAlertEvaluator_ExpiresPastAlerts(t *testing.T) {
	f := newAlertFixture(t)
	seedCloses(t, f.st, "AAPL", 10, 99, 101)
	old := priceCross(models.DirectionAbove, 100)
	old.ExpiresAt = ptr(f.now.Add(-time.Hour))
	expired := f.addAlert(t, old)
	future := priceCross(models.DirectionAbove, 100)
	future.ExpiresAt = ptr(f.now.Add(time.Hour))
	f.addAlert(t, future)

	summary, err := f.eval.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Expired)
	assert.Equal(t, 1, summary.Evaluated)
	assert.Equal(t, models.AlertExpired, f.reload(t, expired.ID).Status)
}
