package broker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"papertrade/internal/matching"
	"papertrade/internal/models"
)

// ============================================================
// PaperBroker - оркестратор бумажной торговли
// ============================================================
//
// Владеет жизненным циклом ордеров: валидирует, направляет в нужный
// алгоритм матчинга, проводит исполнения в Ledger, реагирует на тики
// для висящих LIMIT и STOP ордеров, публикует доменные события.
//
// Все изменения состояния выполняются под одним мьютексом: PlaceOrder,
// CancelOrder, ProcessTick и Reset атомарны относительно друг друга.
// Матчинг - ограниченный проход по ≤5 уровням в памяти, поэтому
// удержание мьютекса короткое.

// Ошибки обработки ордера
var (
	ErrUnknownOrderType = errors.New("unknown order type")
)

// Option - опция конструктора брокера
type Option func(*PaperBroker)

// WithStore задаёт хранилище для зеркалирования состояния
func WithStore(s Store) Option {
	return func(b *PaperBroker) {
		if s != nil {
			b.store = s
		}
	}
}

// WithMetrics задаёт приёмник метрик
func WithMetrics(m Metrics) Option {
	return func(b *PaperBroker) {
		if m != nil {
			b.metrics = m
		}
	}
}

// WithLogger задаёт логгер
func WithLogger(l *zap.Logger) Option {
	return func(b *PaperBroker) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithBookBuilder подменяет построитель стакана (по умолчанию синтетический)
func WithBookBuilder(bb matching.BookBuilder) Option {
	return func(b *PaperBroker) {
		if bb != nil {
			b.books = bb
		}
	}
}

// WithClock подменяет источник времени (для тестов)
func WithClock(now func() time.Time) Option {
	return func(b *PaperBroker) {
		if now != nil {
			b.now = now
		}
	}
}

// WithEventBuffer задаёт размер очереди событий, 0 отключает события
func WithEventBuffer(n int) Option {
	return func(b *PaperBroker) {
		b.eventBuffer = n
	}
}

// WithStartingBalance задаёт стартовый баланс счёта
func WithStartingBalance(balance float64) Option {
	return func(b *PaperBroker) {
		if balance > 0 {
			b.startingBalance = balance
		}
	}
}

// PaperBroker - бумажный брокер одной торговой сессии
type PaperBroker struct {
	mu sync.Mutex

	risk    models.RiskConfig
	params  matching.ParamsSource
	books   matching.BookBuilder
	store   Store
	metrics Metrics
	logger  *zap.Logger
	now     func() time.Time

	events          chan Event
	eventBuffer     int
	startingBalance float64

	orders  []*models.Order
	byID    map[string]*models.Order
	resting map[string][]*models.Order // висящие ордера по символам
	fills   []models.Fill
	prices  map[string]float64
	ledger  *Ledger
}

// New создаёт брокера с риск-параметрами и источником торговых параметров
func New(risk models.RiskConfig, params matching.ParamsSource, opts ...Option) *PaperBroker {
	b := &PaperBroker{
		risk:            risk.Clone(),
		params:          params,
		store:           nopStore{},
		metrics:         nopMetrics{},
		logger:          zap.NewNop(),
		now:             time.Now,
		eventBuffer:     DefaultEventBuffer,
		startingBalance: models.StartingBalance,
		byID:            make(map[string]*models.Order),
		resting:         make(map[string][]*models.Order),
		prices:          make(map[string]float64),
	}
	for i, s := range b.risk.SymbolAllowlist {
		b.risk.SymbolAllowlist[i] = normalizeSymbol(s)
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.books == nil {
		b.books = matching.NewSyntheticBook(params)
	}
	if b.eventBuffer > 0 {
		b.events = make(chan Event, b.eventBuffer)
	}
	b.ledger = NewLedger(b.startingBalance, b.now())
	return b
}

// ============================================================
// Размещение и отмена
// ============================================================

// PlaceOrder размещает ордер.
//
// Никогда не возвращает ошибку: результат закодирован в статусе ордера.
// rejected - запрос не прошёл валидацию, состояние не создаётся.
// cancelled - нет цены, нет ликвидности, остаток IOC или ошибка обработки.
// После возврата ордер никогда не остаётся в неопределённом состоянии.
func (b *PaperBroker) PlaceOrder(ctx context.Context, req models.OrderRequest) *models.Order {
	req = normalizeRequest(req)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	order := &models.Order{
		ID:           uuid.NewString(),
		Symbol:       req.Symbol,
		Side:         req.Side,
		Type:         req.Type,
		Quantity:     req.Quantity,
		OrigQuantity: req.Quantity,
		TIF:          req.TIF,
		Status:       models.OrderStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if req.Price != nil {
		order.Price = *req.Price
	}
	if req.StopPrice != nil {
		order.StopPrice = *req.StopPrice
	}

	if reason := b.validate(req, b.ledger.Account().Balance, b.prices[req.Symbol]); reason != "" {
		order.Status = models.OrderStatusRejected
		order.Reason = reason
		b.metrics.IncReject(reason)
		b.logger.Debug("order rejected",
			zap.String("symbol", req.Symbol),
			zap.String("side", string(req.Side)),
			zap.String("type", string(req.Type)),
			zap.Float64("quantity", req.Quantity),
			zap.String("reason", reason))
		return order
	}

	b.orders = append(b.orders, order)
	b.byID[order.ID] = order

	b.guard(order, func() error { return b.route(ctx, order) })

	if order.Status == models.OrderStatusPending {
		b.resting[order.Symbol] = append(b.resting[order.Symbol], order)
	}

	b.persistOrder(ctx, order)
	b.refreshGauges()
	b.emit(Event{Type: EventOrderPlaced, Order: order.Clone(), Symbol: order.Symbol})

	return order.Clone()
}

// CancelOrder отменяет висящий ордер. Возвращает false если ордер
// не найден или уже не в статусе pending.
func (b *PaperBroker) CancelOrder(ctx context.Context, id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	order, ok := b.byID[id]
	if !ok || order.Status != models.OrderStatusPending {
		return false
	}

	b.cancel(order, models.ReasonUserCancelled)
	b.pruneResting(order.Symbol)
	b.persistOrder(ctx, order)
	b.refreshGauges()
	return true
}

// route - шаги 3-5 размещения: цена, стакан, матчинг по типу ордера
func (b *PaperBroker) route(ctx context.Context, o *models.Order) error {
	last, ok := b.prices[o.Symbol]
	if !ok || last <= 0 {
		b.metrics.IncReject(models.ReasonNoPrice)
		b.cancel(o, models.ReasonNoPrice)
		return nil
	}

	switch o.Type {
	case models.OrderTypeMarket:
		book, err := b.books.BuildOpposite(last, o.Side)
		if err != nil {
			return fmt.Errorf("build book: %w", err)
		}
		b.executeMarket(ctx, o, book)

	case models.OrderTypeLimit:
		book, err := b.books.BuildOpposite(last, o.Side)
		if err != nil {
			return fmt.Errorf("build book: %w", err)
		}
		b.executeLimit(ctx, o, book)

	case models.OrderTypeStopMarket, models.OrderTypeStopLimit:
		// взводится и ждёт тиков
		b.logger.Debug("stop order armed",
			zap.String("order_id", o.ID),
			zap.String("symbol", o.Symbol),
			zap.Float64("stop_price", o.StopPrice))

	default:
		return fmt.Errorf("%w: %s", ErrUnknownOrderType, o.Type)
	}
	return nil
}

// executeMarket исполняет ордер как рыночный по стакану с тейкерской комиссией
func (b *PaperBroker) executeMarket(ctx context.Context, o *models.Order, book matching.Book) {
	p := b.params.Get()
	res := matching.MatchMarket(o.Quantity, book, p.MaxSlippageBps)
	if res.FilledQty <= 0 {
		b.metrics.IncReject(models.ReasonNoLiquidity)
		b.cancel(o, models.ReasonNoLiquidity)
		return
	}

	b.observeSlippage(o.Symbol, res.AvgPrice, book)
	b.settle(ctx, o, res.Fills, p.TakerBps, models.LiquidityTaker)

	if res.Remaining > 0 {
		b.logger.Info("book depth exhausted",
			zap.String("order_id", o.ID),
			zap.String("symbol", o.Symbol),
			zap.Float64("depth", book.Depth()),
			zap.Float64("remaining", res.Remaining))
		b.setStatus(o, models.OrderStatusPartiallyFilled)
		b.emit(Event{Type: EventPartialFill, Order: o.Clone(), Symbol: o.Symbol})
		return
	}
	b.setStatus(o, models.OrderStatusFilled)
}

// executeLimit исполняет пересекающуюся часть лимитного ордера с тейкерской
// комиссией. Остаток GTC остаётся висеть, остаток IOC отменяется.
func (b *PaperBroker) executeLimit(ctx context.Context, o *models.Order, book matching.Book) {
	p := b.params.Get()
	res := matching.MatchLimit(o.Price, o.Quantity, o.Side, book, o.TIF)

	if res.FilledQty > 0 {
		b.observeSlippage(o.Symbol, res.AvgPrice, book)
		b.settle(ctx, o, res.Fills, p.TakerBps, models.LiquidityTaker)
	}

	switch {
	case res.Remaining > 0:
		o.Quantity = res.Remaining
		o.UpdatedAt = b.now()
		if res.FilledQty > 0 {
			b.emit(Event{Type: EventPartialFill, Order: o.Clone(), Symbol: o.Symbol})
		}
	case res.Discarded > 0:
		b.cancel(o, models.ReasonIOCRemainder)
	default:
		b.setStatus(o, models.OrderStatusFilled)
	}
}

// fillResting исполняет весь остаток висящего ордера по его лимитной цене
// с мейкерской комиссией
func (b *PaperBroker) fillResting(ctx context.Context, o *models.Order) {
	p := b.params.Get()
	fill := matching.LevelFill{Price: o.Price, Quantity: o.Quantity}
	b.settle(ctx, o, []matching.LevelFill{fill}, p.MakerBps, models.LiquidityMaker)
	b.setStatus(o, models.OrderStatusFilled)
}

// settle проводит исполнения: fills, позиции, комиссии, счёт.
// Комиссия каждого исполнения = notional × bps / 10000.
func (b *PaperBroker) settle(ctx context.Context, o *models.Order, fills []matching.LevelFill, bps float64, liquidity string) {
	for _, lf := range fills {
		if lf.Quantity <= 0 {
			continue
		}
		now := b.now()
		fee := lf.Price * lf.Quantity * bps / 1e4

		fill := models.Fill{
			ID:        uuid.NewString(),
			OrderID:   o.ID,
			Symbol:    o.Symbol,
			Side:      o.Side,
			Quantity:  lf.Quantity,
			Price:     lf.Price,
			Fee:       fee,
			FeeBps:    bps,
			Liquidity: liquidity,
			Timestamp: now,
		}
		b.fills = append(b.fills, fill)

		o.RecordFill(lf.Quantity, lf.Price, fee)
		o.FeeBps = bps
		o.UpdatedAt = now

		change := b.ledger.UpdatePosition(o.Symbol, o.Side, lf.Quantity, lf.Price, now)
		b.ledger.ApplyFee(o.Symbol, fee)
		b.metrics.AddFee(liquidity, fee)

		if change.Closed {
			b.metrics.SetPositionValue(o.Symbol, 0)
			b.logger.Info("position closed",
				zap.String("symbol", o.Symbol),
				zap.Float64("realized_pnl", change.Realized))
		} else if pos, ok := b.ledger.Position(o.Symbol); ok {
			change.Position = pos
		}

		b.persistFill(ctx, fill)
		b.persistPosition(ctx, change)

		fillCopy := fill
		b.emit(Event{Type: EventOrderFilled, Order: o.Clone(), Fill: &fillCopy, Symbol: o.Symbol})
	}

	b.ledger.MarkToMarket(b.prices, b.now())
	b.persistAccount(ctx)
}

// observeSlippage записывает |avg - best| / best × 10000
func (b *PaperBroker) observeSlippage(symbol string, avg float64, book matching.Book) {
	best, ok := book.Best()
	if !ok {
		return
	}
	b.metrics.ObserveSlippage(symbol, matching.SlippageBps(avg, best.Price))
}

// ============================================================
// Обработка тиков
// ============================================================

// ProcessTick обновляет последнюю цену символа, переоценивает висящие
// LIMIT и STOP ордера этого символа, затем пересчитывает нереализованный
// PNL и equity. Некорректная цена игнорируется.
func (b *PaperBroker) ProcessTick(ctx context.Context, symbol string, price float64) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" || !validNumber(price) || price <= 0 {
		b.logger.Warn("invalid tick ignored", zap.String("symbol", symbol), zap.Float64("price", price))
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.prices[symbol] = price

	// копия: ордера могут исполниться и выпасть из списка во время обхода
	pending := append([]*models.Order(nil), b.resting[symbol]...)
	for _, o := range pending {
		if o.Status != models.OrderStatusPending {
			continue
		}
		before := *o
		b.guard(o, func() error { return b.evaluateResting(ctx, o, price) })
		if o.Status != before.Status || o.Triggered != before.Triggered || o.FilledQuantity != before.FilledQuantity {
			b.persistOrder(ctx, o)
		}
	}
	b.pruneResting(symbol)

	now := b.now()
	b.ledger.MarkToMarket(b.prices, now)
	b.persistAccount(ctx)
	b.refreshGauges()

	acc := b.ledger.Account()
	b.emit(Event{
		Type:      EventPositionUpdate,
		Positions: b.ledger.Positions(),
		Account:   &acc,
		Symbol:    symbol,
		Price:     price,
		Timestamp: now,
	})
}

// evaluateResting переоценивает висящий ордер на тике
//
//   - LIMIT и сработавший STOP_LIMIT: исполнение по лимитной цене если тик её пересёк
//   - STOP_MARKET: при срабатывании - рыночное исполнение по стакану вокруг тика
//   - STOP_LIMIT: при срабатывании становится лимитным и сразу проверяется;
//     IOC без пересечения отменяется
func (b *PaperBroker) evaluateResting(ctx context.Context, o *models.Order, price float64) error {
	switch {
	case o.Type == models.OrderTypeLimit || (o.Type == models.OrderTypeStopLimit && o.Triggered):
		if matching.Crosses(o.Side, price, o.Price) {
			b.fillResting(ctx, o)
		}

	case o.Type == models.OrderTypeStopMarket:
		if !matching.TriggerStop(o.Side, o.StopPrice, price) {
			return nil
		}
		o.Triggered = true
		book, err := b.books.BuildOpposite(price, o.Side)
		if err != nil {
			return fmt.Errorf("build book: %w", err)
		}
		b.executeMarket(ctx, o, book)

	case o.Type == models.OrderTypeStopLimit:
		if !matching.TriggerStop(o.Side, o.StopPrice, price) {
			return nil
		}
		o.Triggered = true
		o.UpdatedAt = b.now()
		switch {
		case matching.Crosses(o.Side, price, o.Price):
			b.fillResting(ctx, o)
		case o.TIF == models.TIFIOC:
			b.cancel(o, models.ReasonIOCRemainder)
		}

	default:
		return fmt.Errorf("%w: %s", ErrUnknownOrderType, o.Type)
	}
	return nil
}

// ============================================================
// Статусы ордеров
// ============================================================

// guard выполняет шаг обработки ордера. Ошибка или паника переводят
// ордер в cancelled с причиной processing_error.
func (b *PaperBroker) guard(o *models.Order, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("order processing panicked",
				zap.String("order_id", o.ID),
				zap.Any("panic", r),
				zap.Stack("stack"))
			b.failProcessing(o)
		}
	}()

	if err := fn(); err != nil {
		b.logger.Error("order processing failed",
			zap.String("order_id", o.ID),
			zap.String("symbol", o.Symbol),
			zap.Error(err))
		b.failProcessing(o)
	}
}

func (b *PaperBroker) failProcessing(o *models.Order) {
	b.metrics.IncReject(models.ReasonProcessingError)
	if models.IsOpenStatus(o.Status) {
		b.cancel(o, models.ReasonProcessingError)
	}
}

// cancel переводит ордер в cancelled с причиной
func (b *PaperBroker) cancel(o *models.Order, reason string) {
	if !b.setStatus(o, models.OrderStatusCancelled) {
		return
	}
	now := b.now()
	o.Reason = reason
	o.CancelledAt = &now
	o.UpdatedAt = now

	b.logger.Info("order cancelled",
		zap.String("order_id", o.ID),
		zap.String("symbol", o.Symbol),
		zap.String("reason", reason))
	b.emit(Event{Type: EventOrderCancelled, Order: o.Clone(), Symbol: o.Symbol})
}

// setStatus меняет статус если переход допустим
func (b *PaperBroker) setStatus(o *models.Order, to models.OrderStatus) bool {
	if o.Status == to {
		return true
	}
	if !models.CanTransitionOrder(o.Status, to) {
		b.logger.Warn("invalid order transition",
			zap.String("order_id", o.ID),
			zap.String("from", string(o.Status)),
			zap.String("to", string(to)))
		return false
	}
	o.Status = to
	o.UpdatedAt = b.now()
	return true
}

// pruneResting убирает из списка висящих ордера в конечном статусе
func (b *PaperBroker) pruneResting(symbol string) {
	list := b.resting[symbol]
	kept := list[:0]
	for _, o := range list {
		if o.Status == models.OrderStatusPending {
			kept = append(kept, o)
		}
	}
	for i := len(kept); i < len(list); i++ {
		list[i] = nil
	}
	if len(kept) == 0 {
		delete(b.resting, symbol)
		return
	}
	b.resting[symbol] = kept
}

// refreshGauges обновляет метрики открытых ордеров и стоимости позиций
func (b *PaperBroker) refreshGauges() {
	active := 0
	for _, list := range b.resting {
		active += len(list)
	}
	b.metrics.SetActiveOrders(active)

	for _, pos := range b.ledger.Positions() {
		if mark, ok := b.prices[pos.Symbol]; ok {
			b.metrics.SetPositionValue(pos.Symbol, b.ledger.PositionValue(pos.Symbol, mark))
		}
	}
}

// ============================================================
// Снимки состояния
// ============================================================

// GetOrders возвращает копии всех ордеров в порядке создания
func (b *PaperBroker) GetOrders() []*models.Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*models.Order, len(b.orders))
	for i, o := range b.orders {
		out[i] = o.Clone()
	}
	return out
}

// GetOrder возвращает копию ордера по id
func (b *PaperBroker) GetOrder(id string) (*models.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.byID[id]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

// GetFills возвращает копии всех исполнений
func (b *PaperBroker) GetFills() []models.Fill {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]models.Fill(nil), b.fills...)
}

// GetPositions возвращает копии открытых позиций
func (b *PaperBroker) GetPositions() []models.Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.ledger.Positions()
}

// GetAccount возвращает копию счёта
func (b *PaperBroker) GetAccount() models.Account {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.ledger.Account()
}

// GetCurrentPrice возвращает последнюю цену символа
func (b *PaperBroker) GetCurrentPrice(symbol string) (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	price, ok := b.prices[normalizeSymbol(symbol)]
	return price, ok
}

// GetRiskConfig возвращает копию риск-параметров
func (b *PaperBroker) GetRiskConfig() models.RiskConfig {
	return b.risk.Clone()
}

// ============================================================
// Сброс и восстановление
// ============================================================

// Reset очищает ордера, исполнения и позиции и возвращает счёт
// в начальное состояние. Последние цены сохраняются.
func (b *PaperBroker) Reset(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, pos := range b.ledger.Positions() {
		b.metrics.SetPositionValue(pos.Symbol, 0)
	}

	now := b.now()
	b.orders = nil
	b.fills = nil
	b.byID = make(map[string]*models.Order)
	b.resting = make(map[string][]*models.Order)
	b.ledger.Reset(now)

	b.storeFailed(opReset, b.store.Reset(ctx))
	b.persistAccount(ctx)
	b.metrics.SetActiveOrders(0)

	acc := b.ledger.Account()
	b.emit(Event{Type: EventPositionUpdate, Positions: []models.Position{}, Account: &acc, Timestamp: now})
	b.logger.Info("paper broker reset", zap.Float64("balance", acc.Balance))
}

// Restore загружает состояние из хранилища. Вызывается на старте,
// до первого тика.
func (b *PaperBroker) Restore(ctx context.Context) error {
	orders, err := b.store.ListOrders(ctx)
	if err != nil {
		return fmt.Errorf("restore orders: %w", err)
	}
	fills, err := b.store.ListFills(ctx)
	if err != nil {
		return fmt.Errorf("restore fills: %w", err)
	}
	positions, err := b.store.ListPositions(ctx)
	if err != nil {
		return fmt.Errorf("restore positions: %w", err)
	}
	account, err := b.store.GetAccount(ctx)
	if err != nil {
		return fmt.Errorf("restore account: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sort.SliceStable(orders, func(i, j int) bool { return orders[i].CreatedAt.Before(orders[j].CreatedAt) })
	b.orders = make([]*models.Order, 0, len(orders))
	b.byID = make(map[string]*models.Order, len(orders))
	b.resting = make(map[string][]*models.Order)
	for _, o := range orders {
		if o == nil {
			continue
		}
		b.orders = append(b.orders, o)
		b.byID[o.ID] = o
		if o.Status == models.OrderStatusPending {
			b.resting[o.Symbol] = append(b.resting[o.Symbol], o)
		}
	}

	b.fills = make([]models.Fill, 0, len(fills))
	for _, f := range fills {
		if f != nil {
			b.fills = append(b.fills, *f)
		}
	}
	sort.SliceStable(b.fills, func(i, j int) bool { return b.fills[i].Timestamp.Before(b.fills[j].Timestamp) })

	restored := make([]models.Position, 0, len(positions))
	for _, p := range positions {
		if p != nil {
			restored = append(restored, *p)
		}
	}
	b.ledger.Restore(restored, account, b.now())
	b.refreshGauges()

	b.logger.Info("paper broker restored",
		zap.Int("orders", len(b.orders)),
		zap.Int("fills", len(b.fills)),
		zap.Int("positions", len(restored)))
	return nil
}

// normalizeRequest приводит регистр полей запроса и подставляет GTC
func normalizeRequest(req models.OrderRequest) models.OrderRequest {
	req.Symbol = normalizeSymbol(req.Symbol)
	req.Side = models.Side(strings.ToLower(strings.TrimSpace(string(req.Side))))
	req.Type = models.OrderType(strings.ToUpper(strings.TrimSpace(string(req.Type))))
	req.TIF = models.TimeInForce(strings.ToUpper(strings.TrimSpace(string(req.TIF))))
	if req.TIF == "" {
		req.TIF = models.TIFGTC
	}
	return req
}
