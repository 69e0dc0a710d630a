package models

import "time"

// ExpiryNotice — сообщение очереди уведомлений об окончании доступа.
type ExpiryNotice struct {
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	ExpiredAt time.Time `json:"expired_at"`
}
