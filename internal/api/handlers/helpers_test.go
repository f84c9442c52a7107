package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"papertrade/internal/broker"
	"papertrade/internal/config"
	"papertrade/internal/models"
)

func newTestBroker(t *testing.T) (*broker.PaperBroker, *config.ParamStore) {
	t.Helper()
	params := config.NewParamStore(config.DefaultParams())
	return broker.New(models.DefaultRiskConfig(), params, broker.WithEventBuffer(0)), params
}

// newRequest собирает запрос с телом и переменными маршрута mux
func newRequest(method, target string, body []byte, vars map[string]string) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if vars != nil {
		req = mux.SetURLVars(req, vars)
	}
	return req
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v (body %q)", err, w.Body.String())
	}
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func f64(v float64) *float64 { return &v }

// placeResting вешает GTC лимитный ордер ниже рынка
func placeResting(t *testing.T, b *broker.PaperBroker) *models.Order {
	t.Helper()
	ctx := context.Background()
	b.ProcessTick(ctx, "BTCUSDT", 50000)
	o := b.PlaceOrder(ctx, models.OrderRequest{
		Symbol: "BTCUSDT", Side: models.SideBuy, Type: models.OrderTypeLimit,
		Quantity: 0.01, Price: f64(45000), TIF: models.TIFGTC,
	})
	if o.Status != models.OrderStatusPending {
		t.Fatalf("resting order status = %s (%s)", o.Status, o.Reason)
	}
	return o
}
