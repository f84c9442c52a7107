package ratelimit

import (
	"context"
	"sync"
	"time"
)

// RateLimiter - Token Bucket rate limiter
//
// Ведро наполняется со скоростью rate токенов/сек до ёмкости burst,
// каждый запрос потребляет 1 токен.
//
// Использование:
//
//	limiter := NewRateLimiter(10, 20) // 10 req/sec, burst 20
//	err := limiter.Wait(ctx)          // блокирующее ожидание
//	if limiter.Allow() { ... }        // неблокирующая проверка
type RateLimiter struct {
	rate       float64   // токенов в секунду
	burst      float64   // максимальная ёмкость
	tokens     float64   // текущее количество токенов
	lastRefill time.Time // время последнего пополнения
	now        func() time.Time
	mu         sync.Mutex
}

// NewRateLimiter создаёт новый rate limiter
//
// rate <= 0 означает 10 req/sec, burst <= 0 означает 2x rate.
func NewRateLimiter(rate, burst float64) *RateLimiter {
	return newRateLimiter(rate, burst, time.Now)
}

func newRateLimiter(rate, burst float64, now func() time.Time) *RateLimiter {
	if rate <= 0 {
		rate = 10
	}
	if burst <= 0 {
		burst = rate * 2
	}
	if burst < 1 {
		burst = 1
	}

	return &RateLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     burst, // начинаем с полным ведром
		lastRefill: now(),
		now:        now,
	}
}

// refill пополняет токены на основе прошедшего времени
// ВАЖНО: вызывается под lock'ом
func (rl *RateLimiter) refill() {
	now := rl.now()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}

	rl.tokens += elapsed * rl.rate
	if rl.tokens > rl.burst {
		rl.tokens = rl.burst
	}
	rl.lastRefill = now
}

// Wait блокирует до получения токена или отмены контекста
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		rl.refill()

		if rl.tokens >= 1 {
			rl.tokens--
			rl.mu.Unlock()
			return nil
		}

		// Время до следующего токена
		waitTime := time.Duration((1 - rl.tokens) / rl.rate * float64(time.Second))
		rl.mu.Unlock()

		timer := time.NewTimer(waitTime)
		select {
		case <-timer.C:
			continue
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Allow берёт токен без ожидания
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

// RetryAfter - через сколько появится следующий токен
func (rl *RateLimiter) RetryAfter() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	if rl.tokens >= 1 {
		return 0
	}
	return time.Duration((1 - rl.tokens) / rl.rate * float64(time.Second))
}

// Tokens возвращает текущее количество токенов
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill()
	return rl.tokens
}

// ============================================================
// KeyedLimiter - отдельное ведро на ключ (клиента)
// ============================================================

// KeyedLimiter выдаёт каждому ключу свой RateLimiter с общими параметрами
//
// Ведра создаются лениво. Неактивные дольше idleTTL удаляются при Sweep.
type KeyedLimiter struct {
	rate    float64
	burst   float64
	idleTTL time.Duration
	now     func() time.Time

	limiters map[string]*keyedEntry
	mu       sync.Mutex
}

type keyedEntry struct {
	limiter  *RateLimiter
	lastSeen time.Time
}

// NewKeyedLimiter создаёт лимитер по ключам
func NewKeyedLimiter(rate, burst float64, idleTTL time.Duration) *KeyedLimiter {
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &KeyedLimiter{
		rate:     rate,
		burst:    burst,
		idleTTL:  idleTTL,
		now:      time.Now,
		limiters: make(map[string]*keyedEntry),
	}
}

// Get возвращает ведро ключа, создавая его при необходимости
func (kl *KeyedLimiter) Get(key string) *RateLimiter {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	entry, ok := kl.limiters[key]
	if !ok {
		entry = &keyedEntry{limiter: newRateLimiter(kl.rate, kl.burst, kl.now)}
		kl.limiters[key] = entry
	}
	entry.lastSeen = kl.now()
	return entry.limiter
}

// Allow берёт токен из ведра ключа
func (kl *KeyedLimiter) Allow(key string) bool {
	return kl.Get(key).Allow()
}

// Sweep удаляет ведра, не использованные дольше idleTTL
func (kl *KeyedLimiter) Sweep() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	cutoff := kl.now().Add(-kl.idleTTL)
	removed := 0
	for key, entry := range kl.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(kl.limiters, key)
			removed++
		}
	}
	return removed
}

// Len - количество ведер
func (kl *KeyedLimiter) Len() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.limiters)
}
