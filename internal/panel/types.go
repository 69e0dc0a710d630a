// Package panel реализует клиент HTTP API панели управления прокси-шлюзом.
// Панель хранит учетные данные клиентов внутри inbound как JSON-строку,
// поэтому все изменения идут по схеме "прочитать-изменить-записать"
// целым объектом.
package panel

import (
	"encoding/json"
	"errors"
)

// Типизированные доменные ошибки панели. Они не ретраятся и отдаются
// вызывающему как есть, в отличие от транспортных сбоев.
var (
	// ErrUnavailable — панель недоступна: ошибка транспорта после всех
	// попыток либо неожиданный статус ответа.
	ErrUnavailable = errors.New("panel unavailable")
	// ErrUnauthorized — панель отвергла вход или сессию.
	ErrUnauthorized = errors.New("panel rejected credentials")
	// ErrCredentialExists — учетные данные с таким идентификатором уже
	// присутствуют в inbound.
	ErrCredentialExists = errors.New("credential already exists")
	// ErrCredentialNotFound — учетных данных с таким идентификатором
	// в inbound нет.
	ErrCredentialNotFound = errors.New("credential not found")
)

// Session — результат аутентификации: cookie или bearer-токен.
// Сессии не кешируются, каждый логический вызов аутентифицируется заново.
type Session struct {
	Cookie string
	Token  string
}

// Credential — учетные данные клиента в settings.clients[] inbound.
type Credential struct {
	ID         string `json:"id"`         // Стабильный UUID пользователя
	Email      string `json:"email"`      // Идентификатор привязки, уникален для пары пользователь-сервер
	Flow       string `json:"flow"`       // Режим потока, пустой или именованный
	ExpiryTime int64  `json:"expiryTime"` // Срок действия, epoch millis, 0 — бессрочно
	Expire     int64  `json:"expire"`     // Срок действия, epoch seconds, производное от ExpiryTime
	Enable     bool   `json:"enable"`
}

// CredentialPatch — изменяемые поля учетных данных. nil-поле не трогается.
type CredentialPatch struct {
	Flow    *string
	Expiry  *int64 // epoch millis, 0 — бессрочно
	Enabled *bool
}

// ClientStat — запись статистики трафика клиента в ответе панели.
type ClientStat struct {
	ID         int64  `json:"id"`
	Email      string `json:"email"`
	Up         int64  `json:"up"`
	Down       int64  `json:"down"`
	Total      int64  `json:"total"`
	AllTime    int64  `json:"allTime"`
	LastOnline int64  `json:"lastOnline"`
}

// Traffic — нормализованная статистика трафика одного клиента.
type Traffic struct {
	Up         int64
	Down       int64
	Total      int64
	LastOnline int64
}

// Inbound — inbound панели. Raw хранит объект целиком, чтобы при записи
// вернуть панели все поля, которые клиент не интерпретирует.
type Inbound struct {
	ID      int
	Raw     map[string]json.RawMessage
	Clients []Credential
	Stats   []ClientStat
}

// InboundInfo — краткая запись списка inbound.
type InboundInfo struct {
	ID     int    `json:"id"`
	Remark string `json:"remark"`
}

// apiResponse — конверт ответа панели. Часть эндпоинтов отвечает голым
// объектом без конверта, это тоже принимается.
type apiResponse struct {
	Success *bool           `json:"success"`
	Msg     string          `json:"msg"`
	Token   string          `json:"token"`
	Obj     json.RawMessage `json:"obj"`
}

// inboundSettings — расшифрованное поле settings (JSON-строка внутри JSON).
type inboundSettings struct {
	Clients []Credential `json:"clients"`
}
