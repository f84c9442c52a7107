package broker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"papertrade/internal/models"
)

// ============ Размещение: MARKET ============

func TestPlaceOrder_MarketBuy(t *testing.T) {
	ctx := context.Background()
	b, metrics, _ := newTestBroker(t)
	b.ProcessTick(ctx, "BTCUSDT", 50000)
	drainEvents(b)

	order := b.PlaceOrder(ctx, models.OrderRequest{
		Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.OrderTypeMarket, Quantity: 0.01,
	})

	if order.Status != models.OrderStatusFilled {
		t.Fatalf("Status: ожидали filled, получили %s (%s)", order.Status, order.Reason)
	}
	if !approxEqual(order.FilledQuantity, 0.01) {
		t.Errorf("FilledQuantity: ожидали 0.01, получили %v", order.FilledQuantity)
	}
	// 0.005 × 50000 + 0.005 × 50050
	if !approxEqual(order.AveragePrice, 50025) {
		t.Errorf("AveragePrice: ожидали 50025, получили %v", order.AveragePrice)
	}
	if order.AveragePrice > 50000*1.005 {
		t.Errorf("средняя цена %v дальше 0.5%% от 50000", order.AveragePrice)
	}
	wantFee := (0.005*50000 + 0.005*50050) * 15 / 1e4
	if !approxEqual(order.Fee, wantFee) {
		t.Errorf("Fee: ожидали %v, получили %v", wantFee, order.Fee)
	}
	if order.FeeBps != 15 {
		t.Errorf("FeeBps: ожидали 15, получили %v", order.FeeBps)
	}

	fills := b.GetFills()
	if len(fills) != 2 {
		t.Fatalf("ожидали 2 исполнения, получили %d", len(fills))
	}
	var fillFees float64
	for _, f := range fills {
		fillFees += f.Fee
		if f.Liquidity != models.LiquidityTaker || f.OrderID != order.ID {
			t.Errorf("исполнение %+v: ожидали taker по ордеру %s", f, order.ID)
		}
	}
	if !approxEqual(fillFees, order.Fee) {
		t.Errorf("сумма комиссий исполнений %v != комиссии ордера %v", fillFees, order.Fee)
	}

	positions := b.GetPositions()
	if len(positions) != 1 {
		t.Fatalf("ожидали 1 позицию, получили %d", len(positions))
	}
	if positions[0].Side != models.PositionLong || !approxEqual(positions[0].Quantity, 0.01) {
		t.Errorf("позиция: ожидали long 0.01, получили %s %v", positions[0].Side, positions[0].Quantity)
	}

	acc := b.GetAccount()
	if acc.Balance != 10000 {
		t.Errorf("Balance не меняется: получили %v", acc.Balance)
	}
	if !approxEqual(acc.TotalFees, wantFee) || !approxEqual(acc.FeesAccrued, wantFee) {
		t.Errorf("комиссии счёта: %v / %v, ожидали %v", acc.TotalFees, acc.FeesAccrued, wantFee)
	}
	wantUnreal := (50000 - 50025) * 0.01
	if !approxEqual(acc.UnrealizedPnL, wantUnreal) {
		t.Errorf("UnrealizedPnL: ожидали %v, получили %v", wantUnreal, acc.UnrealizedPnL)
	}
	if !approxEqual(acc.Equity, 10000+wantUnreal-wantFee) {
		t.Errorf("Equity: ожидали %v, получили %v", 10000+wantUnreal-wantFee, acc.Equity)
	}

	if !approxEqual(metrics.fees[models.LiquidityTaker], wantFee) {
		t.Errorf("метрика taker fee: ожидали %v, получили %v", wantFee, metrics.fees[models.LiquidityTaker])
	}
	if len(metrics.slippage) != 1 || !approxEqual(metrics.slippage[0], 5) {
		t.Errorf("метрика slippage: ожидали [5], получили %v", metrics.slippage)
	}
	if !approxEqual(metrics.positions["BTCUSDT"], 0.01*50000) {
		t.Errorf("метрика position value: ожидали 500, получили %v", metrics.positions["BTCUSDT"])
	}

	events := drainEvents(b)
	if countEvents(events, EventOrderFilled) != 2 || countEvents(events, EventOrderPlaced) != 1 {
		t.Errorf("события: ожидали 2 order_filled и 1 order_placed, получили %+v", events)
	}
}

func TestPlaceOrder_MarketRoundTripRealizesPnL(t *testing.T) {
	ctx := context.Background()
	b, _, _ := newTestBroker(t)
	b.ProcessTick(ctx, "BTCUSDT", 50000)

	b.PlaceOrder(ctx, models.OrderRequest{Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.OrderTypeMarket, Quantity: 0.01})
	sell := b.PlaceOrder(ctx, models.OrderRequest{Symbol: "BTCUSDT", Side: models.SideSell, Type: models.OrderTypeMarket, Quantity: 0.01})

	if sell.Status != models.OrderStatusFilled {
		t.Fatalf("Status: ожидали filled, получили %s", sell.Status)
	}
	if len(b.GetPositions()) != 0 {
		t.Errorf("позиция должна закрыться, получили %+v", b.GetPositions())
	}
	// куплено за 500.25, продано за 250 + 249.75
	acc := b.GetAccount()
	if !approxEqual(acc.RealizedPnL, -0.5) {
		t.Errorf("RealizedPnL: ожидали -0.5, получили %v", acc.RealizedPnL)
	}
	if acc.UnrealizedPnL != 0 {
		t.Errorf("UnrealizedPnL без позиций: ожидали 0, получили %v", acc.UnrealizedPnL)
	}
}

func TestPlaceOrder_NoPrice(t *testing.T) {
	ctx := context.Background()
	b, metrics, _ := newTestBroker(t)

	order := b.PlaceOrder(ctx, models.OrderRequest{
		Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.OrderTypeMarket, Quantity: 0.01,
	})

	if order.Status != models.OrderStatusCancelled || order.Reason != models.ReasonNoPrice {
		t.Errorf("ожидали cancelled/no_price, получили %s/%s", order.Status, order.Reason)
	}
	if order.CancelledAt == nil {
		t.Error("CancelledAt должен быть заполнен")
	}
	if metrics.rejects[models.ReasonNoPrice] != 1 {
		t.Errorf("метрика no_price: ожидали 1, получили %d", metrics.rejects[models.ReasonNoPrice])
	}
	if len(b.GetOrders()) != 1 {
		t.Error("ордер прошёл валидацию и должен храниться")
	}
}

func TestPlaceOrder_NoLiquidity(t *testing.T) {
	ctx := context.Background()
	b, metrics, _ := newTestBroker(t, WithBookBuilder(emptyBuilder{}))
	b.ProcessTick(ctx, "BTCUSDT", 50000)

	order := b.PlaceOrder(ctx, models.OrderRequest{
		Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.OrderTypeMarket, Quantity: 0.01,
	})
	if order.Status != models.OrderStatusCancelled || order.Reason != models.ReasonNoLiquidity {
		t.Errorf("ожидали cancelled/no_liquidity, получили %s/%s", order.Status, order.Reason)
	}
	if metrics.rejects[models.ReasonNoLiquidity] != 1 {
		t.Errorf("метрика no_liquidity: ожидали 1, получили %d", metrics.rejects[models.ReasonNoLiquidity])
	}
}

func TestPlaceOrder_MarketPartialFill(t *testing.T) {
	ctx := context.Background()
	b, _, params := newTestBroker(t)
	params.Set(map[string]interface{}{"maxSlippageBps": 0.0}) // один уровень на шаге тика
	b.ProcessTick(ctx, "BTCUSDT", 50000)
	drainEvents(b)

	order := b.PlaceOrder(ctx, models.OrderRequest{
		Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.OrderTypeMarket, Quantity: 0.01,
	})
	if order.Status != models.OrderStatusPartiallyFilled {
		t.Fatalf("Status: ожидали partially_filled, получили %s", order.Status)
	}
	if !approxEqual(order.FilledQuantity, 0.005) {
		t.Errorf("FilledQuantity: ожидали 0.005, получили %v", order.FilledQuantity)
	}
	if countEvents(drainEvents(b), EventPartialFill) != 1 {
		t.Error("ожидали событие partial_fill")
	}
}

// ============ Валидация ============

func TestPlaceOrder_Validation(t *testing.T) {
	tests := []struct {
		name   string
		req    models.OrderRequest
		reason string
	}{
		{"symbol not allowed", models.OrderRequest{Symbol: "DOGEUSDT", Side: models.SideBuy, Type: models.OrderTypeMarket, Quantity: 1}, models.ReasonSymbolNotAllowed},
		{"zero quantity", models.OrderRequest{Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.OrderTypeMarket, Quantity: 0}, models.ReasonInvalidQuantity},
		{"negative quantity", models.OrderRequest{Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.OrderTypeMarket, Quantity: -1}, models.ReasonInvalidQuantity},
		{"limit without price", models.OrderRequest{Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.OrderTypeLimit, Quantity: 0.01}, models.ReasonPriceRequired},
		{"limit zero price", models.OrderRequest{Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.OrderTypeLimit, Quantity: 0.01, Price: f64(0)}, models.ReasonPriceRequired},
		{"stop market without stop", models.OrderRequest{Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.OrderTypeStopMarket, Quantity: 0.01}, models.ReasonStopPriceRequired},
		{"stop limit without stop", models.OrderRequest{Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.OrderTypeStopLimit, Quantity: 0.01, Price: f64(50000)}, models.ReasonStopPriceRequired},
		{"market leverage", models.OrderRequest{Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.OrderTypeMarket, Quantity: 3}, models.ReasonLeverageExceeded},
		{"limit leverage", models.OrderRequest{Symbol: "BTCUSDT", Side: models.SideSell, Type: models.OrderTypeLimit, Quantity: 3, Price: f64(40000)}, models.ReasonLeverageExceeded},
		{"unknown type", models.OrderRequest{Symbol: "BTCUSDT", Side: models.SideBuy, Type: "ICEBERG", Quantity: 0.01}, models.ReasonUnknownType},
		{"invalid side", models.OrderRequest{Symbol: "BTCUSDT", Side: "hold", Type: models.OrderTypeMarket, Quantity: 0.01}, models.ReasonInvalidSide},
		{"invalid tif", models.OrderRequest{Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.OrderTypeMarket, Quantity: 0.01, TIF: "FOK"}, models.ReasonInvalidTIF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			b, metrics, _ := newTestBroker(t)
			b.ProcessTick(ctx, "BTCUSDT", 50000)
			drainEvents(b)

			order := b.PlaceOrder(ctx, tt.req)
			if order.Status != models.OrderStatusRejected {
				t.Fatalf("Status: ожидали rejected, получили %s", order.Status)
			}
			if order.Reason != tt.reason {
				t.Errorf("Reason: ожидали %q, получили %q", tt.reason, order.Reason)
			}
			if metrics.rejects[tt.reason] != 1 {
				t.Errorf("метрика %q: ожидали 1, получили %d", tt.reason, metrics.rejects[tt.reason])
			}
			if len(b.GetOrders()) != 0 || len(b.GetFills()) != 0 {
				t.Error("отклонённый ордер не создаёт состояния")
			}
			if len(drainEvents(b)) != 0 {
				t.Error("отклонённый ордер не публикует событий")
			}
		})
	}
}

func TestPlaceOrder_NormalizesRequest(t *testing.T) {
	ctx := context.Background()
	b, _, _ := newTestBroker(t)
	b.ProcessTick(ctx, "btcusdt", 50000)

	order := b.PlaceOrder(ctx, models.OrderRequest{
		Symbol: " btcusdt ", Side: "BUY", Type: "limit", Quantity: 0.01, Price: f64(40000),
	})
	if order.Status != models.OrderStatusPending {
		t.Fatalf("Status: ожидали pending, получили %s (%s)", order.Status, order.Reason)
	}
	if order.Symbol != "BTCUSDT" || order.Side != models.SideBuy || order.TIF != models.TIFGTC {
		t.Errorf("нормализация: получили %s %s %s", order.Symbol, order.Side, order.TIF)
	}
	if order.OrigQuantity != 0.01 {
		t.Errorf("OrigQuantity: ожидали 0.01, получили %v", order.OrigQuantity)
	}
}

// ============ Размещение: LIMIT ============

func TestPlaceOrder_LimitIOCNeverCrosses(t *testing.T) {
	ctx := context.Background()
	b, _, _ := newTestBroker(t)
	b.ProcessTick(ctx, "BTCUSDT", 50000)

	order := b.PlaceOrder(ctx, models.OrderRequest{
		Symbol: "BTCUSDT", Side: models.SideSell, Type: models.OrderTypeLimit,
		Quantity: 0.01, Price: f64(60000), TIF: models.TIFIOC,
	})

	if order.Status != models.OrderStatusCancelled {
		t.Fatalf("Status: ожидали cancelled, получили %s", order.Status)
	}
	if order.FilledQuantity != 0 || order.Fee != 0 {
		t.Errorf("ожидали ноль исполнения и комиссии, получили %v / %v", order.FilledQuantity, order.Fee)
	}
	if len(b.GetFills()) != 0 {
		t.Error("исполнений быть не должно")
	}

	// остаток не висит: следующий тик его не исполняет
	b.ProcessTick(ctx, "BTCUSDT", 65000)
	if len(b.GetFills()) != 0 {
		t.Error("отменённый IOC не должен исполняться на тике")
	}
}

func TestPlaceOrder_LimitGTCPartialThenTickFill(t *testing.T) {
	ctx := context.Background()
	b, metrics, _ := newTestBroker(t)
	b.ProcessTick(ctx, "BTCUSDT", 50000)
	drainEvents(b)

	order := b.PlaceOrder(ctx, models.OrderRequest{
		Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.OrderTypeLimit,
		Quantity: 1, Price: f64(50050), TIF: models.TIFGTC,
	})

	// пересекаются уровни 50000 (0.005) и 50050 (0.01)
	if order.Status != models.OrderStatusPending {
		t.Fatalf("Status: ожидали pending, получили %s", order.Status)
	}
	if !approxEqual(order.FilledQuantity, 0.015) || !approxEqual(order.Quantity, 0.985) {
		t.Errorf("ожидали filled 0.015 и остаток 0.985, получили %v / %v", order.FilledQuantity, order.Quantity)
	}
	if order.OrigQuantity != 1 {
		t.Errorf("OrigQuantity: ожидали 1, получили %v", order.OrigQuantity)
	}
	if metrics.active != 1 {
		t.Errorf("active orders: ожидали 1, получили %d", metrics.active)
	}
	if countEvents(drainEvents(b), EventPartialFill) != 1 {
		t.Error("ожидали событие partial_fill")
	}

	// тик выше лимита покупки - не пересекает
	b.ProcessTick(ctx, "BTCUSDT", 50100)
	if got, _ := b.GetOrder(order.ID); got.Status != models.OrderStatusPending {
		t.Fatalf("ордер не должен исполниться на 50100, статус %s", got.Status)
	}

	b.ProcessTick(ctx, "BTCUSDT", 50040)
	got, _ := b.GetOrder(order.ID)
	if got.Status != models.OrderStatusFilled {
		t.Fatalf("Status: ожидали filled, получили %s", got.Status)
	}
	if !approxEqual(got.FilledQuantity, 1) || got.FilledQuantity > got.OrigQuantity {
		t.Errorf("FilledQuantity: ожидали 1, получили %v", got.FilledQuantity)
	}
	wantAvg := 0.005*50000 + 0.01*50050 + 0.985*50050
	if !approxEqual(got.AveragePrice, wantAvg) {
		t.Errorf("AveragePrice: ожидали %v, получили %v", wantAvg, got.AveragePrice)
	}

	fills := b.GetFills()
	last := fills[len(fills)-1]
	if last.Liquidity != models.LiquidityMaker || last.Price != 50050 || last.FeeBps != 10 {
		t.Errorf("исполнение на тике: ожидали maker по 50050 с 10 bps, получили %+v", last)
	}
	if !approxEqual(metrics.fees[models.LiquidityMaker], 0.985*50050*10/1e4) {
		t.Errorf("метрика maker fee: получили %v", metrics.fees[models.LiquidityMaker])
	}
	if metrics.active != 0 {
		t.Errorf("active orders: ожидали 0, получили %d", metrics.active)
	}
}

func TestPlaceOrder_FilledQuantityNeverExceedsOriginal(t *testing.T) {
	tests := []struct {
		name  string
		qty   float64
		limit float64
	}{
		{"rest then fill on tick", 0.009, 50000},
		{"whole ladder", 0.075, 50300},
		{"two levels then rest", 0.033, 50050},
		{"deep remainder", 0.123, 50200},
		{"single level", 0.004, 50100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			b, _, _ := newTestBroker(t, WithEventBuffer(0))
			b.ProcessTick(ctx, "BTCUSDT", 50000)

			order := b.PlaceOrder(ctx, models.OrderRequest{
				Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.OrderTypeLimit,
				Quantity: tt.qty, Price: f64(tt.limit), TIF: models.TIFGTC,
			})
			b.ProcessTick(ctx, "BTCUSDT", 40000)

			got, ok := b.GetOrder(order.ID)
			if !ok {
				t.Fatalf("ордер %s не найден", order.ID)
			}
			if got.Status != models.OrderStatusFilled {
				t.Fatalf("Status: ожидали filled, получили %s (%s)", got.Status, got.Reason)
			}
			if got.FilledQuantity != got.OrigQuantity {
				t.Errorf("FilledQuantity: ожидали ровно %v, получили %v", got.OrigQuantity, got.FilledQuantity)
			}

			sell := b.PlaceOrder(ctx, models.OrderRequest{
				Symbol: "BTCUSDT", Side: models.SideSell, Type: models.OrderTypeMarket, Quantity: tt.qty,
			})
			if sell.FilledQuantity > sell.OrigQuantity {
				t.Errorf("продажа: filled %v > orig %v", sell.FilledQuantity, sell.OrigQuantity)
			}
		})
	}
}

func TestPlaceOrder_RestingLimitMakerFill(t *testing.T) {
	ctx := context.Background()
	b, _, _ := newTestBroker(t)
	b.ProcessTick(ctx, "BTCUSDT", 50000)

	order := b.PlaceOrder(ctx, models.OrderRequest{
		Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.OrderTypeLimit,
		Quantity: 0.1, Price: f64(49000),
	})
	if order.Status != models.OrderStatusPending || order.FilledQuantity != 0 {
		t.Fatalf("ожидали висящий ордер без исполнений, получили %s / %v", order.Status, order.FilledQuantity)
	}

	b.ProcessTick(ctx, "BTCUSDT", 49500)
	if len(b.GetFills()) != 0 {
		t.Fatal("на 49500 исполнения быть не должно")
	}

	b.ProcessTick(ctx, "BTCUSDT", 49000)
	got, _ := b.GetOrder(order.ID)
	if got.Status != models.OrderStatusFilled || got.AveragePrice != 49000 {
		t.Errorf("ожидали filled по 49000, получили %s по %v", got.Status, got.AveragePrice)
	}
	if !approxEqual(got.Fee, 4.9) {
		t.Errorf("Fee: ожидали 4.9, получили %v", got.Fee)
	}
	if acc := b.GetAccount(); acc.UnrealizedPnL != 0 {
		t.Errorf("UnrealizedPnL по цене входа: ожидали 0, получили %v", acc.UnrealizedPnL)
	}
}

// ============ Отмена ============

func TestCancelOrder(t *testing.T) {
	ctx := context.Background()
	b, _, _ := newTestBroker(t)
	b.ProcessTick(ctx, "BTCUSDT", 50000)

	resting := b.PlaceOrder(ctx, models.OrderRequest{
		Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.OrderTypeLimit, Quantity: 0.1, Price: f64(49000),
	})
	filled := b.PlaceOrder(ctx, models.OrderRequest{
		Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.OrderTypeMarket, Quantity: 0.01,
	})

	if !b.CancelOrder(ctx, resting.ID) {
		t.Fatal("висящий ордер должен отменяться")
	}
	got, _ := b.GetOrder(resting.ID)
	if got.Status != models.OrderStatusCancelled || got.Reason != models.ReasonUserCancelled || got.CancelledAt == nil {
		t.Errorf("ожидали cancelled/user_cancelled с CancelledAt, получили %+v", got)
	}

	if b.CancelOrder(ctx, resting.ID) {
		t.Error("повторная отмена должна вернуть false")
	}
	if b.CancelOrder(ctx, filled.ID) {
		t.Error("исполненный ордер не отменяется")
	}
	if b.CancelOrder(ctx, "missing") {
		t.Error("неизвестный ордер не отменяется")
	}

	b.ProcessTick(ctx, "BTCUSDT", 48000)
	if got, _ := b.GetOrder(resting.ID); got.FilledQuantity != 0 {
		t.Error("отменённый ордер не должен исполняться на тике")
	}
}

// ============ STOP ордера ============

func TestStopMarket_TriggersOnTick(t *testing.T) {
	ctx := context.Background()
	b, _, _ := newTestBroker(t)
	b.ProcessTick(ctx, "BTCUSDT", 50000)

	order := b.PlaceOrder(ctx, models.OrderRequest{
		Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.OrderTypeStopMarket,
		Quantity: 0.01, StopPrice: f64(51000),
	})
	if order.Status != models.OrderStatusPending {
		t.Fatalf("стоп должен ждать тика, статус %s", order.Status)
	}

	b.ProcessTick(ctx, "BTCUSDT", 50500)
	if got, _ := b.GetOrder(order.ID); got.Status != models.OrderStatusPending || got.Triggered {
		t.Fatal("на 50500 стоп не срабатывает")
	}

	b.ProcessTick(ctx, "BTCUSDT", 51000)
	got, _ := b.GetOrder(order.ID)
	if got.Status != models.OrderStatusFilled || !got.Triggered {
		t.Fatalf("ожидали сработавший и исполненный стоп, получили %s", got.Status)
	}
	// стакан вокруг 51000: шаг 51, уровни 51000 (0.005) и 51051 (0.01)
	if !approxEqual(got.AveragePrice, 51025.5) {
		t.Errorf("AveragePrice: ожидали 51025.5, получили %v", got.AveragePrice)
	}
	if !approxEqual(got.Fee, (0.005*51000+0.005*51051)*15/1e4) {
		t.Errorf("Fee: ожидали тейкерскую комиссию, получили %v", got.Fee)
	}
}

func TestStopLimit(t *testing.T) {
	tests := []struct {
		name       string
		stop       float64
		limit      float64
		tif        models.TimeInForce
		ticks      []float64
		wantStatus models.OrderStatus
		wantPrice  float64
		wantReason string
	}{
		{"trigger and cross", 49000, 48900, models.TIFGTC, []float64{49500, 49000}, models.OrderStatusFilled, 48900, ""},
		{"IOC trigger without cross", 49000, 49500, models.TIFIOC, []float64{48000}, models.OrderStatusCancelled, 0, models.ReasonIOCRemainder},
		{"GTC rests after trigger", 49000, 49500, models.TIFGTC, []float64{48000}, models.OrderStatusPending, 0, ""},
		{"GTC fills later as limit", 49000, 49500, models.TIFGTC, []float64{48000, 49600}, models.OrderStatusFilled, 49500, ""},
		{"not triggered", 49000, 48900, models.TIFGTC, []float64{49100, 49500}, models.OrderStatusPending, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			b, _, _ := newTestBroker(t)
			b.ProcessTick(ctx, "BTCUSDT", 50000)

			order := b.PlaceOrder(ctx, models.OrderRequest{
				Symbol: "BTCUSDT", Side: models.SideSell, Type: models.OrderTypeStopLimit,
				Quantity: 0.01, Price: f64(tt.limit), StopPrice: f64(tt.stop), TIF: tt.tif,
			})
			for _, p := range tt.ticks {
				b.ProcessTick(ctx, "BTCUSDT", p)
			}

			got, _ := b.GetOrder(order.ID)
			if got.Status != tt.wantStatus {
				t.Fatalf("Status: ожидали %s, получили %s", tt.wantStatus, got.Status)
			}
			if got.AveragePrice != tt.wantPrice {
				t.Errorf("AveragePrice: ожидали %v, получили %v", tt.wantPrice, got.AveragePrice)
			}
			if got.Reason != tt.wantReason {
				t.Errorf("Reason: ожидали %q, получили %q", tt.wantReason, got.Reason)
			}
			if tt.wantStatus == models.OrderStatusFilled {
				pos := b.GetPositions()
				if len(pos) != 1 || pos[0].Side != models.PositionShort {
					t.Errorf("ожидали short позицию, получили %+v", pos)
				}
			}
		})
	}
}

// ============ Ошибки обработки ============

func TestPlaceOrder_ProcessingErrors(t *testing.T) {
	tests := []struct {
		name    string
		builder Option
	}{
		{"builder error", WithBookBuilder(failingBuilder{})},
		{"builder panic", WithBookBuilder(panickingBuilder{})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			b, metrics, _ := newTestBroker(t, tt.builder)
			b.ProcessTick(ctx, "BTCUSDT", 50000)

			order := b.PlaceOrder(ctx, models.OrderRequest{
				Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.OrderTypeMarket, Quantity: 0.01,
			})
			if order.Status != models.OrderStatusCancelled || order.Reason != models.ReasonProcessingError {
				t.Errorf("ожидали cancelled/processing_error, получили %s/%s", order.Status, order.Reason)
			}
			if metrics.rejects[models.ReasonProcessingError] != 1 {
				t.Errorf("метрика processing_error: ожидали 1, получили %d", metrics.rejects[models.ReasonProcessingError])
			}
			if acc := b.GetAccount(); acc.TotalFees != 0 || acc.Equity != 10000 {
				t.Errorf("ошибка обработки не должна менять счёт: %+v", acc)
			}
		})
	}
}

func TestProcessTick_StopFailureIsolated(t *testing.T) {
	ctx := context.Background()
	b, metrics, _ := newTestBroker(t, WithBookBuilder(panickingBuilder{}))
	b.ProcessTick(ctx, "BTCUSDT", 50000)
	b.ProcessTick(ctx, "ETHUSDT", 3000)

	stop := b.PlaceOrder(ctx, models.OrderRequest{
		Symbol: "BTCUSDT", Side: models.SideSell, Type: models.OrderTypeStopMarket, Quantity: 0.01, StopPrice: f64(49000),
	})
	other := b.PlaceOrder(ctx, models.OrderRequest{
		Symbol: "ETHUSDT", Side: models.SideSell, Type: models.OrderTypeStopLimit, Quantity: 0.1,
		Price: f64(2900), StopPrice: f64(2950),
	})
	drainEvents(b)

	b.ProcessTick(ctx, "BTCUSDT", 48000)
	got, _ := b.GetOrder(stop.ID)
	if got.Status != models.OrderStatusCancelled || got.Reason != models.ReasonProcessingError {
		t.Errorf("ожидали cancelled/processing_error, получили %s/%s", got.Status, got.Reason)
	}
	if metrics.rejects[models.ReasonProcessingError] != 1 {
		t.Errorf("метрика processing_error: ожидали 1, получили %d", metrics.rejects[models.ReasonProcessingError])
	}
	if countEvents(drainEvents(b), EventPositionUpdate) != 1 {
		t.Error("тик должен завершиться событием position_update")
	}

	// STOP_LIMIT не строит стакан и исполняется на другом символе
	b.ProcessTick(ctx, "ETHUSDT", 2940)
	if got, _ := b.GetOrder(other.ID); got.Status != models.OrderStatusFilled {
		t.Errorf("ордер по ETHUSDT: ожидали filled, получили %s", got.Status)
	}
}

func TestProcessTick_IgnoresInvalidPrice(t *testing.T) {
	ctx := context.Background()
	b, _, _ := newTestBroker(t)
	b.ProcessTick(ctx, "BTCUSDT", 50000)
	b.ProcessTick(ctx, "BTCUSDT", -1)
	b.ProcessTick(ctx, "BTCUSDT", 0)

	price, ok := b.GetCurrentPrice("btcusdt")
	if !ok || price != 50000 {
		t.Errorf("GetCurrentPrice: ожидали 50000, получили %v (%v)", price, ok)
	}
	if _, ok := b.GetCurrentPrice("ETHUSDT"); ok {
		t.Error("цена ETHUSDT не задана")
	}
}

// ============ Хранилище ============

func TestPlaceOrder_StoreFailureDoesNotAffectTrading(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.failWrite = errors.New("disk full")
	b, metrics, _ := newTestBroker(t, WithStore(store))
	b.ProcessTick(ctx, "BTCUSDT", 50000)

	order := b.PlaceOrder(ctx, models.OrderRequest{
		Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.OrderTypeMarket, Quantity: 0.01,
	})
	if order.Status != models.OrderStatusFilled {
		t.Fatalf("ошибка хранилища не влияет на торговлю, статус %s", order.Status)
	}
	if metrics.storeErrors[opSaveOrder] != 1 || metrics.storeErrors[opSaveFill] != 2 {
		t.Errorf("метрики ошибок хранилища: %+v", metrics.storeErrors)
	}
	if metrics.storeErrors[opSaveAccount] == 0 || metrics.storeErrors[opSavePosition] == 0 {
		t.Errorf("ожидали ошибки записи счёта и позиции: %+v", metrics.storeErrors)
	}
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	b1, _, _ := newTestBroker(t, WithStore(store))
	b1.ProcessTick(ctx, "BTCUSDT", 50000)
	b1.PlaceOrder(ctx, models.OrderRequest{Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.OrderTypeMarket, Quantity: 0.01})
	resting := b1.PlaceOrder(ctx, models.OrderRequest{
		Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.OrderTypeLimit, Quantity: 0.1, Price: f64(49000),
	})

	b2, metrics, _ := newTestBroker(t, WithStore(store))
	if err := b2.Restore(ctx); err != nil {
		t.Fatalf("Restore error: %v", err)
	}

	if len(b2.GetOrders()) != 2 || len(b2.GetFills()) != 2 || len(b2.GetPositions()) != 1 {
		t.Fatalf("восстановлено: %d ордеров, %d исполнений, %d позиций",
			len(b2.GetOrders()), len(b2.GetFills()), len(b2.GetPositions()))
	}
	if b2.GetAccount() != b1.GetAccount() {
		t.Errorf("счёт:\n got  %+v\n want %+v", b2.GetAccount(), b1.GetAccount())
	}
	if metrics.active != 1 {
		t.Errorf("active orders после восстановления: ожидали 1, получили %d", metrics.active)
	}

	// висящий ордер продолжает жить после восстановления
	b2.ProcessTick(ctx, "BTCUSDT", 49000)
	if got, _ := b2.GetOrder(resting.ID); got.Status != models.OrderStatusFilled {
		t.Errorf("восстановленный лимитный ордер: ожидали filled, получили %s", got.Status)
	}
}

// ============ Сброс и снимки ============

func TestReset(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	b, _, _ := newTestBroker(t, WithStore(store))
	b.ProcessTick(ctx, "BTCUSDT", 50000)
	b.PlaceOrder(ctx, models.OrderRequest{Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.OrderTypeMarket, Quantity: 0.01})
	b.PlaceOrder(ctx, models.OrderRequest{Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.OrderTypeLimit, Quantity: 0.1, Price: f64(49000)})
	b.ProcessTick(ctx, "BTCUSDT", 52000)

	b.Reset(ctx)

	acc := b.GetAccount()
	if acc.Balance != 10000 || acc.Equity != 10000 || acc.RealizedPnL != 0 ||
		acc.UnrealizedPnL != 0 || acc.TotalFees != 0 || acc.FeesAccrued != 0 || acc.DailyPnL != 0 {
		t.Errorf("после Reset ожидали начальный счёт, получили %+v", acc)
	}
	if len(b.GetOrders()) != 0 || len(b.GetFills()) != 0 || len(b.GetPositions()) != 0 {
		t.Error("после Reset ордера, исполнения и позиции пусты")
	}
	if store.resets != 1 {
		t.Errorf("хранилище должно сброситься, resets = %d", store.resets)
	}
	if price, ok := b.GetCurrentPrice("BTCUSDT"); !ok || price != 52000 {
		t.Error("последняя цена сохраняется после Reset")
	}

	// висящий ордер удалён вместе с остальными
	b.ProcessTick(ctx, "BTCUSDT", 48000)
	if len(b.GetFills()) != 0 {
		t.Error("после Reset тик не должен ничего исполнять")
	}
}

func TestSnapshots_AreCopies(t *testing.T) {
	ctx := context.Background()
	b, _, _ := newTestBroker(t)
	b.ProcessTick(ctx, "BTCUSDT", 50000)
	order := b.PlaceOrder(ctx, models.OrderRequest{Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.OrderTypeMarket, Quantity: 0.01})

	order.Status = models.OrderStatusRejected
	b.GetOrders()[0].Quantity = 999
	b.GetPositions()[0].Quantity = 999
	b.GetFills()[0].Price = 1
	risk := b.GetRiskConfig()
	risk.SymbolAllowlist[0] = "XXX"

	got, _ := b.GetOrder(order.ID)
	if got.Status != models.OrderStatusFilled || got.Quantity != 0.01 {
		t.Error("изменение копии ордера затронуло состояние брокера")
	}
	if !approxEqual(b.GetPositions()[0].Quantity, 0.01) {
		t.Error("изменение копии позиции затронуло состояние брокера")
	}
	if b.GetFills()[0].Price == 1 {
		t.Error("изменение копии исполнения затронуло состояние брокера")
	}
	if b.GetRiskConfig().SymbolAllowlist[0] != "BTCUSDT" {
		t.Error("изменение копии риск-конфига затронуло брокера")
	}
}

// ============ События ============

func TestEvents_OverflowDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	b, metrics, _ := newTestBroker(t, WithEventBuffer(1))
	b.ProcessTick(ctx, "BTCUSDT", 50000)
	b.PlaceOrder(ctx, models.OrderRequest{Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.OrderTypeMarket, Quantity: 0.01})

	if metrics.overflows == 0 {
		t.Error("ожидали переполнение очереди событий")
	}
	if len(drainEvents(b)) != 1 {
		t.Error("в очереди должно остаться одно событие")
	}
}

func TestEvents_Disabled(t *testing.T) {
	ctx := context.Background()
	b, _, _ := newTestBroker(t, WithEventBuffer(0))
	b.ProcessTick(ctx, "BTCUSDT", 50000)
	if b.Events() != nil {
		t.Error("при буфере 0 канал событий не создаётся")
	}
}

// ============ Конкурентность ============

func TestPaperBroker_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	b, _, _ := newTestBroker(t, WithEventBuffer(0))
	b.ProcessTick(ctx, "BTCUSDT", 50000)
	b.ProcessTick(ctx, "ETHUSDT", 3000)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(3)
		go func(i int) {
			defer wg.Done()
			side := models.SideBuy
			if i%2 == 1 {
				side = models.SideSell
			}
			b.PlaceOrder(ctx, models.OrderRequest{Symbol: "BTCUSDT", Side: side, Type: models.OrderTypeMarket, Quantity: 0.001})
		}(i)
		go func(i int) {
			defer wg.Done()
			b.PlaceOrder(ctx, models.OrderRequest{Symbol: "ETHUSDT", Side: models.SideBuy, Type: models.OrderTypeLimit, Quantity: 0.1, Price: f64(2990 - float64(i))})
		}(i)
		go func(i int) {
			defer wg.Done()
			b.ProcessTick(ctx, "ETHUSDT", 3000-float64(i))
			_ = b.GetAccount()
			_ = b.GetPositions()
		}(i)
	}
	wg.Wait()

	for _, o := range b.GetOrders() {
		if o.FilledQuantity > o.OrigQuantity {
			t.Errorf("ордер %s: filled %v > orig %v", o.ID, o.FilledQuantity, o.OrigQuantity)
		}
		if o.Status == models.OrderStatusRejected {
			t.Errorf("ордер %s не должен быть отклонён: %s", o.ID, o.Reason)
		}
	}
}
