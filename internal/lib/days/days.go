// Package days реализует календарную арифметику дней в UTC.
// Периоды подписки считаются календарными днями, а не прошедшими
// секундами, поэтому результат не зависит от переходов на летнее
// время и стабилен на границе расчетных суток.
package days

import "time"

// Add прибавляет n календарных дней к моменту t в UTC.
// Переполнение месяца нормализуется стандартной библиотекой:
// 31 января + 30 дней = 1 марта (в високосный год).
func Add(t time.Time, n int) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day()+n, u.Hour(), u.Minute(), u.Second(), u.Nanosecond(), time.UTC)
}
