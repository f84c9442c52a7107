package utils

import (
	"time"
)

// GetDayStartFrom возвращает начало дня для указанного времени в UTC
//
// Пример:
//
//	start := GetDayStartFrom(time.Date(2024, 1, 15, 14, 30, 45, 0, time.UTC))
//	// start: 2024-01-15 00:00:00 UTC
func GetDayStartFrom(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
