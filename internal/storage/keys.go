package storage

import (
	"fmt"
	"time"
)

// Схема ключей Pebble:
//
//	ord:{orderID}                 → Order
//	fill:{unixNano:020}:{fillID}  → Fill (лексикографически = хронологически)
//	pos:{symbol}                  → Position
//	acct                          → Account

const (
	prefixOrder    = "ord:"
	prefixFill     = "fill:"
	prefixPosition = "pos:"
	keyAccount     = "acct"
)

func orderKey(id string) []byte {
	return []byte(prefixOrder + id)
}

// fillKey - время дополнено нулями до 20 цифр для сортировки
func fillKey(ts time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefixFill, ts.UnixNano(), id))
}

func positionKey(symbol string) []byte {
	return []byte(prefixPosition + symbol)
}

func accountKey() []byte {
	return []byte(keyAccount)
}

// keyUpperBound возвращает исключающую верхнюю границу для обхода по префиксу
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
