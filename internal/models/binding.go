package models

import "time"

// Binding представляет привязку пользователя к серверу.
// Инвариант: у пользователя не более одной привязки с IsActive = true.
type Binding struct {
	ID         int
	UserUID    string
	ServerID   int
	Email      string // Идентификатор учетных данных на панели, уникален для пары пользователь-сервер
	IsActive   bool   // Привязка обслуживает трафик
	IsRetained bool   // Привязка когда-либо существовала и не удалена жестко
	CreatedAt  time.Time
}

// DummyBinding используется для приёма данных из JSON-запросов bind/activate/unbind.
type DummyBinding struct {
	UserUID  string `json:"user_uid" validate:"required,uuid"`
	ServerID int    `json:"server_id" validate:"required,gt=0"`
}

// DummyTrial используется для приёма данных из JSON-запроса пробного периода.
// Days опционален: при нуле берется длительность из конфигурации.
type DummyTrial struct {
	UserUID  string `json:"user_uid" validate:"required,uuid"`
	ServerID int    `json:"server_id" validate:"required,gt=0"`
	Days     int    `json:"days" validate:"omitempty,gt=0"`
}
