package models

import "time"

// SubscriptionPeriod представляет оплаченный или пробный период доступа.
// Инвариант: у пользователя не более одного периода с IsActive = true;
// когда период становится активным, ExpiresAt пользователя равен его EndsAt
// (кроме статуса blocked).
type SubscriptionPeriod struct {
	ID         int
	UserUID    string
	PaymentID  *int // nil для пробного периода
	PeriodDays int
	StartsAt   time.Time
	EndsAt     time.Time
	IsActive   bool
}
