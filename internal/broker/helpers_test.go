package broker

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"papertrade/internal/config"
	"papertrade/internal/matching"
	"papertrade/internal/models"
)

// ============ Тестовые двойники ============

// recordingMetrics запоминает вызовы метрик
type recordingMetrics struct {
	mu          sync.Mutex
	rejects     map[string]int
	fees        map[string]float64
	slippage    []float64
	active      int
	positions   map[string]float64
	storeErrors map[string]int
	overflows   int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		rejects:     make(map[string]int),
		fees:        make(map[string]float64),
		positions:   make(map[string]float64),
		storeErrors: make(map[string]int),
	}
}

func (m *recordingMetrics) IncReject(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejects[reason]++
}

func (m *recordingMetrics) AddFee(kind string, amount float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fees[kind] += amount
}

func (m *recordingMetrics) ObserveSlippage(_ string, bps float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slippage = append(m.slippage, bps)
}

func (m *recordingMetrics) SetActiveOrders(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = n
}

func (m *recordingMetrics) SetPositionValue(symbol string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if value == 0 {
		delete(m.positions, symbol)
		return
	}
	m.positions[symbol] = value
}

func (m *recordingMetrics) IncStoreError(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeErrors[op]++
}

func (m *recordingMetrics) IncEventOverflow() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overflows++
}

// memStore - Store в памяти с возможностью сломать запись
type memStore struct {
	mu        sync.Mutex
	orders    map[string]*models.Order
	fills     map[string]*models.Fill
	positions map[string]*models.Position
	account   *models.Account
	failWrite error
	resets    int
}

func newMemStore() *memStore {
	return &memStore{
		orders:    make(map[string]*models.Order),
		fills:     make(map[string]*models.Fill),
		positions: make(map[string]*models.Position),
	}
}

func (s *memStore) SaveOrder(_ context.Context, o *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite != nil {
		return s.failWrite
	}
	s.orders[o.ID] = o.Clone()
	return nil
}

func (s *memStore) SaveFill(_ context.Context, f *models.Fill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite != nil {
		return s.failWrite
	}
	c := *f
	s.fills[f.ID] = &c
	return nil
}

func (s *memStore) SavePosition(_ context.Context, p *models.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite != nil {
		return s.failWrite
	}
	c := *p
	s.positions[p.Symbol] = &c
	return nil
}

func (s *memStore) DeletePosition(_ context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite != nil {
		return s.failWrite
	}
	delete(s.positions, symbol)
	return nil
}

func (s *memStore) SaveAccount(_ context.Context, a *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite != nil {
		return s.failWrite
	}
	c := *a
	s.account = &c
	return nil
}

func (s *memStore) ListOrders(context.Context) ([]*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o.Clone())
	}
	return out, nil
}

func (s *memStore) ListFills(context.Context) ([]*models.Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Fill, 0, len(s.fills))
	for _, f := range s.fills {
		c := *f
		out = append(out, &c)
	}
	return out, nil
}

func (s *memStore) ListPositions(context.Context) ([]*models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Position, 0, len(s.positions))
	for _, p := range s.positions {
		c := *p
		out = append(out, &c)
	}
	return out, nil
}

func (s *memStore) GetAccount(context.Context) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.account == nil {
		return nil, nil
	}
	c := *s.account
	return &c, nil
}

func (s *memStore) Reset(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	s.orders = make(map[string]*models.Order)
	s.fills = make(map[string]*models.Fill)
	s.positions = make(map[string]*models.Position)
	s.account = nil
	return nil
}

// failingBuilder всегда возвращает ошибку
type failingBuilder struct{}

func (failingBuilder) BuildOpposite(float64, models.Side) (matching.Book, error) {
	return matching.Book{}, errors.New("book unavailable")
}

// panickingBuilder паникует при построении
type panickingBuilder struct{}

func (panickingBuilder) BuildOpposite(float64, models.Side) (matching.Book, error) {
	panic("boom")
}

// emptyBuilder возвращает пустой стакан
type emptyBuilder struct{}

func (emptyBuilder) BuildOpposite(float64, models.Side) (matching.Book, error) {
	return matching.Book{}, nil
}

// ============ Хелперы ============

var testNow = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBroker(t *testing.T, opts ...Option) (*PaperBroker, *recordingMetrics, *config.ParamStore) {
	t.Helper()
	metrics := newRecordingMetrics()
	params := config.NewParamStore(config.DefaultParams())
	clock := &testClock{now: testNow}
	all := append([]Option{WithMetrics(metrics), WithClock(clock.Now)}, opts...)
	return New(models.DefaultRiskConfig(), params, all...), metrics, params
}

func f64(v float64) *float64 { return &v }

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

// drainEvents забирает все накопленные события
func drainEvents(b *PaperBroker) []Event {
	var out []Event
	for {
		select {
		case ev := <-b.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func countEvents(events []Event, typ EventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}
