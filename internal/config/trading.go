package config

import (
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Ключи торговых параметров, допустимые для изменения на лету
const (
	KeyMakerBps       = "makerBps"
	KeyTakerBps       = "takerBps"
	KeyMaxSlippageBps = "maxSlippageBps"
	KeyTickSize       = "tickSize"
	KeyLotSize        = "lotSize"
	KeyStopWatcherMs  = "stopWatcherMs"
)

// ParamKeys - whitelist ключей для SetConfig
var ParamKeys = []string{
	KeyMakerBps,
	KeyTakerBps,
	KeyMaxSlippageBps,
	KeyTickSize,
	KeyLotSize,
	KeyStopWatcherMs,
}

// Params - торговые параметры движка
type Params struct {
	MakerBps       float64 `json:"makerBps"`
	TakerBps       float64 `json:"takerBps"`
	MaxSlippageBps float64 `json:"maxSlippageBps"`
	TickSize       float64 `json:"tickSize"`
	LotSize        float64 `json:"lotSize"`
	StopWatcherMs  float64 `json:"stopWatcherMs"`
}

// DefaultParams возвращает параметры по умолчанию
func DefaultParams() Params {
	return Params{
		MakerBps:       10,
		TakerBps:       15,
		MaxSlippageBps: 50,
		TickSize:       0.01,
		LotSize:        0.001,
		StopWatcherMs:  1000,
	}
}

// StopWatcherInterval - как часто внешний фид должен вызывать ProcessTick
func (p Params) StopWatcherInterval() time.Duration {
	if p.StopWatcherMs <= 0 {
		return time.Second
	}
	return time.Duration(p.StopWatcherMs * float64(time.Millisecond))
}

// RoundTick округляет цену до шага цены (половина - от нуля)
//
// Считается в decimal, чтобы 0.1+0.2 не давало 0.30000000000000004.
func (p Params) RoundTick(price float64) float64 {
	if p.TickSize <= 0 {
		return price
	}
	tick := decimal.NewFromFloat(p.TickSize)
	return decimal.NewFromFloat(price).Div(tick).Round(0).Mul(tick).InexactFloat64()
}

// set применяет одно значение по ключу
func (p *Params) set(key string, v float64) {
	switch key {
	case KeyMakerBps:
		p.MakerBps = v
	case KeyTakerBps:
		p.TakerBps = v
	case KeyMaxSlippageBps:
		p.MaxSlippageBps = v
	case KeyTickSize:
		p.TickSize = v
	case KeyLotSize:
		p.LotSize = v
	case KeyStopWatcherMs:
		p.StopWatcherMs = v
	}
}

// ============================================================
// ParamStore - параметры по умолчанию + override в памяти
// ============================================================

// ParamStore хранит неизменяемые параметры по умолчанию и override,
// заданный через SetConfig. Override не сохраняется между перезапусками.
//
// Потокобезопасен.
type ParamStore struct {
	mu       sync.RWMutex
	defaults Params
	override map[string]float64
}

// NewParamStore создаёт хранилище параметров
func NewParamStore(defaults Params) *ParamStore {
	return &ParamStore{
		defaults: defaults,
		override: make(map[string]float64),
	}
}

// Defaults возвращает параметры по умолчанию
func (s *ParamStore) Defaults() Params {
	return s.defaults
}

// Get возвращает параметры по умолчанию, объединённые с override
func (s *ParamStore) Get() Params {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := s.defaults
	for k, v := range s.override {
		p.set(k, v)
	}
	return p
}

// Set применяет patch к override
//
// Принимаются только ключи из ParamKeys с неотрицательными числовыми
// значениями, остальное молча отбрасывается. Возвращает принятую часть patch.
func (s *ParamStore) Set(patch map[string]interface{}) map[string]float64 {
	accepted := make(map[string]float64)
	for _, key := range ParamKeys {
		raw, ok := patch[key]
		if !ok {
			continue
		}
		v, ok := toNumber(raw)
		if !ok || v < 0 {
			continue
		}
		accepted[key] = v
	}

	s.mu.Lock()
	for k, v := range accepted {
		s.override[k] = v
	}
	s.mu.Unlock()

	return accepted
}

// Reset сбрасывает override
func (s *ParamStore) Reset() {
	s.mu.Lock()
	s.override = make(map[string]float64)
	s.mu.Unlock()
}

// RoundTick округляет цену по текущему шагу цены
func (s *ParamStore) RoundTick(price float64) float64 {
	return s.Get().RoundTick(price)
}

// toNumber приводит значение из JSON patch к числу
// Строки считаются нечисловыми значениями даже если их можно распарсить.
func toNumber(raw interface{}) (float64, bool) {
	var v float64
	switch n := raw.(type) {
	case float64:
		v = n
	case float32:
		v = float64(n)
	case int:
		v = float64(n)
	case int64:
		v = float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		v = f
	default:
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
