package models

import "time"

// PaymentStatusSucceeded — единственный моделируемый статус платежа:
// платежи записываются уже проведенными, жизненного цикла шлюза нет.
const PaymentStatusSucceeded = "succeeded"

// Payment представляет проведенный платеж пользователя.
// PlanPrice — снимок цены тарифа на момент покупки, не зависит
// от последующих правок тарифа.
type Payment struct {
	ID        int
	UserUID   string
	PlanID    *int
	Amount    int64 // Сумма в копейках
	Currency  string
	Status    string
	PlanPrice int64 // Цена тарифа на момент покупки, в копейках
	CreatedAt time.Time
}

// Plan представляет тариф: цена и длительность периода в днях.
type Plan struct {
	ID           int
	Name         string
	Price        int64 // в копейках
	DurationDays int
	Archived     bool
}

// DummyPayment используется для приёма данных из JSON-запроса записи платежа.
type DummyPayment struct {
	UserUID    string `json:"user_uid" validate:"required,uuid"`
	PlanID     int    `json:"plan_id" validate:"omitempty,gt=0"`
	Amount     int64  `json:"amount" validate:"required,gt=0"`
	Currency   string `json:"currency" validate:"required,len=3"`
	PeriodDays int    `json:"period_days" validate:"required,gt=0"`
}
