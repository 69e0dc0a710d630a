package models

// PanelConfig описывает подключение к панели управляемого сервера.
// Все четыре поля присутствуют либо отсутствуют вместе: сервер без
// дескриптора панели не управляется и никогда не синхронизируется.
type PanelConfig struct {
	BaseURL     string // Базовый URL панели, без завершающего слэша
	Username    string // Логин администратора панели
	PasswordEnc string // Пароль администратора, зашифрованный secrets.Keeper
	InboundID   int    // Идентификатор inbound, в который выписываются учетные данные
}

// Server представляет VPN-сервер, на который привязываются пользователи.
type Server struct {
	ID          int
	Name        string
	Address     string
	MaxBindings int    // Лимит привязок, 0 — без ограничения
	Security    string // Профиль безопасности транспорта: none или reality
	IsActive    bool
	Panel       *PanelConfig // nil для неуправляемого сервера
}

// Managed сообщает, синхронизируется ли сервер с панелью.
func (s *Server) Managed() bool {
	return s.Panel != nil
}

// Flow возвращает режим потока для учетных данных на панели
// в зависимости от профиля безопасности сервера.
func (s *Server) Flow() string {
	if s.Security == "reality" {
		return "xtls-rprx-vision"
	}
	return ""
}

// DummyServer используется для приёма данных из JSON-запроса создания сервера.
// Поля панели опциональны, но должны приходить все вместе.
type DummyServer struct {
	Name          string `json:"name" validate:"required"`
	Address       string `json:"address" validate:"required"`
	MaxBindings   int    `json:"max_bindings" validate:"gte=0"`
	Security      string `json:"security" validate:"omitempty,oneof=none reality"`
	PanelBaseURL  string `json:"panel_base_url" validate:"omitempty,url"`
	PanelUsername string `json:"panel_username" validate:"omitempty"`
	PanelPassword string `json:"panel_password" validate:"omitempty"`
	PanelInbound  int    `json:"panel_inbound" validate:"omitempty,gt=0"`
}
