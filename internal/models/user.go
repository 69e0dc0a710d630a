// Package models содержит доменные структуры сервиса управления доступом:
// пользователей, серверы, привязки, периоды подписки и платежи.
// Структуры используются в бизнес-логике и при работе с хранилищем.
package models

import "time"

// Статусы пользователя. Статус blocked является "липким":
// автоматические переходы его не перезаписывают, он снимается
// только административной операцией.
const (
	StatusNew     = "new"
	StatusActive  = "active"
	StatusExpired = "expired"
	StatusBlocked = "blocked"
)

// User представляет клиента VPN-сервиса.
type User struct {
	UID         string     // Уникальный идентификатор пользователя
	Username    string     // Имя пользователя (уникальное)
	Email       string     // Электронная почта
	Status      string     // Статус доступа: new, active, expired, blocked
	ExpiresAt   *time.Time // Момент окончания доступа (nil — доступа нет)
	ExternalID  string     // Стабильный UUID учетных данных на панели, не меняется при смене сервера
	FirstPaidAt *time.Time // Момент первого успешного платежа (nil — пользователь еще не платил)
	CreatedAt   time.Time
}

// DummyUser используется для приёма данных из JSON-запроса регистрации.
type DummyUser struct {
	Username string `json:"username" validate:"required,alphanum"`
	Email    string `json:"email" validate:"omitempty,email"`
}
