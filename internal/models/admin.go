package models

// Admin представляет учетную запись администратора сервиса.
type Admin struct {
	ID           int
	Username     string
	PasswordHash string
	Role         string // admin или support
}

// DummyLogin используется для приёма данных из JSON-запроса входа администратора.
type DummyLogin struct {
	Username string `json:"username" validate:"required,alphanum"`
	Password string `json:"password" validate:"required"`
}
