package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Client — клиент панели. Транспортные сбои ретраятся фиксированное число
// попыток без пауз; доменные отказы (4xx, "уже существует", "не найдено")
// не ретраятся никогда. Пул keep-alive соединений внутри http.Client
// безопасно разделяется конкурентными вызовами.
type Client struct {
	httpClient *http.Client
	attempts   int
	log        *slog.Logger
}

// New создает клиент панели с фиксированным таймаутом на каждый вызов
// и числом попыток при транспортных сбоях.
func New(log *slog.Logger, timeout time.Duration, maxAttempts int) *Client {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		attempts:   maxAttempts,
		log:        log,
	}
}

// do выполняет HTTP-вызов с ретраями транспортных ошибок.
// Любой полученный HTTP-статус считается доставленным ответом и не ретраится.
func (c *Client) do(ctx context.Context, method, url string, body []byte, sess *Session) (int, []byte, http.Header, error) {
	var lastErr error
	for range c.attempts {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return 0, nil, nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if sess != nil {
			if sess.Cookie != "" {
				req.Header.Set("Cookie", sess.Cookie)
			}
			if sess.Token != "" {
				req.Header.Set("Authorization", "Bearer "+sess.Token)
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		respBody, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return resp.StatusCode, respBody, resp.Header, nil
	}
	return 0, nil, nil, fmt.Errorf("%w: %w", ErrUnavailable, lastErr)
}

// unwrapObj снимает конверт {success, msg, obj} и возвращает полезную
// нагрузку. Ответ без конверта возвращается как есть.
func unwrapObj(body []byte) (json.RawMessage, error) {
	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		// Не объект — например, голый массив.
		return body, nil
	}
	if envelope.Success != nil && !*envelope.Success {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, envelope.Msg)
	}
	if envelope.Obj != nil {
		return envelope.Obj, nil
	}
	return body, nil
}

// Authenticate выполняет вход на панель и возвращает сессию.
// Сессия — cookie из Set-Cookie либо токен из тела ответа.
func (c *Client) Authenticate(ctx context.Context, base, username, password string) (*Session, error) {
	const op = "panel.Authenticate"

	payload, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	status, body, header, err := c.do(ctx, http.MethodPost, base+"/login", payload, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return nil, fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%s: %w: status %d", op, ErrUnavailable, status)
	}

	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Success != nil && !*envelope.Success {
			return nil, fmt.Errorf("%s: %w: %s", op, ErrUnauthorized, envelope.Msg)
		}
	}

	sess := &Session{Token: envelope.Token}
	if cookies := (&http.Response{Header: header}).Cookies(); len(cookies) > 0 {
		sess.Cookie = cookies[0].Name + "=" + cookies[0].Value
	}
	if sess.Cookie == "" && sess.Token == "" {
		return nil, fmt.Errorf("%s: %w: no session in response", op, ErrUnauthorized)
	}
	return sess, nil
}

// ListInbounds возвращает краткий список inbound панели.
func (c *Client) ListInbounds(ctx context.Context, base string, sess *Session) ([]InboundInfo, error) {
	const op = "panel.ListInbounds"

	status, body, _, err := c.do(ctx, http.MethodGet, base+"/panel/api/inbounds/list", nil, sess)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%s: %w: status %d", op, ErrUnavailable, status)
	}

	obj, err := unwrapObj(body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var result []InboundInfo
	if err := json.Unmarshal(obj, &result); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// FetchInbound возвращает inbound целиком: сырые поля, расшифрованный
// список клиентов из строкового поля settings и статистику трафика.
func (c *Client) FetchInbound(ctx context.Context, base string, sess *Session, inboundID int) (*Inbound, error) {
	const op = "panel.FetchInbound"

	url := fmt.Sprintf("%s/panel/api/inbounds/get/%d", base, inboundID)
	status, body, _, err := c.do(ctx, http.MethodGet, url, nil, sess)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return nil, fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%s: %w: status %d", op, ErrUnavailable, status)
	}

	obj, err := unwrapObj(body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(obj, &raw); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	in := &Inbound{ID: inboundID, Raw: raw}

	// Поле settings — JSON-строка, внутри которой объект с clients.
	if rawSettings, ok := raw["settings"]; ok {
		var settingsStr string
		if err := json.Unmarshal(rawSettings, &settingsStr); err != nil {
			return nil, fmt.Errorf("%s: decode settings: %w", op, err)
		}
		var settings inboundSettings
		if settingsStr != "" {
			if err := json.Unmarshal([]byte(settingsStr), &settings); err != nil {
				return nil, fmt.Errorf("%s: decode settings clients: %w", op, err)
			}
		}
		in.Clients = settings.Clients
	}

	if rawStats, ok := raw["clientStats"]; ok {
		if err := json.Unmarshal(rawStats, &in.Stats); err != nil {
			return nil, fmt.Errorf("%s: decode client stats: %w", op, err)
		}
	}
	return in, nil
}

// pushInbound сериализует список клиентов обратно в строковое поле settings
// и записывает inbound целиком. Конкурентные вызовы к одному inbound не
// сериализуются: панель не дает поля ревизии для compare-and-swap, поэтому
// две одновременных записи могут молча потерять одну из них.
func (c *Client) pushInbound(ctx context.Context, base string, sess *Session, in *Inbound) error {
	settingsJSON, err := json.Marshal(inboundSettings{Clients: in.Clients})
	if err != nil {
		return err
	}
	quoted, err := json.Marshal(string(settingsJSON))
	if err != nil {
		return err
	}
	in.Raw["settings"] = quoted

	body, err := json.Marshal(in.Raw)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/panel/api/inbounds/update/%d", base, in.ID)
	status, respBody, _, err := c.do(ctx, http.MethodPost, url, body, sess)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return ErrUnauthorized
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnavailable, status)
	}
	if _, err := unwrapObj(respBody); err != nil {
		return err
	}
	return nil
}

// UpsertCredential добавляет учетные данные в inbound. Если данные с таким
// идентификатором уже есть, возвращается ErrCredentialExists — вызывающий
// переходит на UpdateCredential.
func (c *Client) UpsertCredential(ctx context.Context, base string, sess *Session, inboundID int, cred Credential) error {
	const op = "panel.UpsertCredential"

	in, err := c.FetchInbound(ctx, base, sess, inboundID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	for _, existing := range in.Clients {
		if existing.Email == cred.Email {
			return fmt.Errorf("%s: %w", op, ErrCredentialExists)
		}
	}

	cred.Expire = cred.ExpiryTime / 1000
	in.Clients = append(in.Clients, cred)

	if err := c.pushInbound(ctx, base, sess, in); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// UpdateCredential изменяет поля учетных данных по идентификатору привязки.
func (c *Client) UpdateCredential(ctx context.Context, base string, sess *Session, inboundID int, email string, patch CredentialPatch) error {
	const op = "panel.UpdateCredential"

	in, err := c.FetchInbound(ctx, base, sess, inboundID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	found := false
	for i := range in.Clients {
		if in.Clients[i].Email != email {
			continue
		}
		found = true
		if patch.Flow != nil {
			in.Clients[i].Flow = *patch.Flow
		}
		if patch.Expiry != nil {
			in.Clients[i].ExpiryTime = *patch.Expiry
			in.Clients[i].Expire = *patch.Expiry / 1000
		}
		if patch.Enabled != nil {
			in.Clients[i].Enable = *patch.Enabled
		}
	}
	if !found {
		return fmt.Errorf("%s: %w", op, ErrCredentialNotFound)
	}

	if err := c.pushInbound(ctx, base, sess, in); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// DeleteCredential удаляет учетные данные из inbound. Отсутствие записи —
// доменное "не найдено", а не транспортная ошибка.
func (c *Client) DeleteCredential(ctx context.Context, base string, sess *Session, inboundID int, email string) error {
	const op = "panel.DeleteCredential"

	in, err := c.FetchInbound(ctx, base, sess, inboundID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	kept := in.Clients[:0]
	for _, existing := range in.Clients {
		if existing.Email != email {
			kept = append(kept, existing)
		}
	}
	if len(kept) == len(in.Clients) {
		return fmt.Errorf("%s: %w", op, ErrCredentialNotFound)
	}
	in.Clients = kept

	if err := c.pushInbound(ctx, base, sess, in); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// FetchTraffic возвращает статистику трафика клиента. Запись статистики
// ищется по идентификатору привязки, затем по стабильному UUID учетных
// данных. Total берется из счетчика за все время, когда он положителен,
// иначе up+down.
func (c *Client) FetchTraffic(ctx context.Context, base string, sess *Session, inboundID int, email string) (*Traffic, error) {
	const op = "panel.FetchTraffic"

	in, err := c.FetchInbound(ctx, base, sess, inboundID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var credID string
	for _, cred := range in.Clients {
		if cred.Email == email {
			credID = cred.ID
			break
		}
	}

	var stat *ClientStat
	for i := range in.Stats {
		if in.Stats[i].Email == email {
			stat = &in.Stats[i]
			break
		}
	}
	if stat == nil && credID != "" {
		for i := range in.Stats {
			if in.Stats[i].Email == credID {
				stat = &in.Stats[i]
				break
			}
		}
	}
	if stat == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrCredentialNotFound)
	}

	total := stat.Up + stat.Down
	if stat.AllTime > 0 {
		total = stat.AllTime
	}
	return &Traffic{
		Up:         stat.Up,
		Down:       stat.Down,
		Total:      total,
		LastOnline: stat.LastOnline,
	}, nil
}

// ResetTraffic обнуляет счетчики трафика клиента на панели.
func (c *Client) ResetTraffic(ctx context.Context, base string, sess *Session, inboundID int, email string) error {
	const op = "panel.ResetTraffic"

	url := fmt.Sprintf("%s/panel/api/inbounds/%d/resetClientTraffic/%s", base, inboundID, email)
	status, body, _, err := c.do(ctx, http.MethodPost, url, nil, sess)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("%s: %w: status %d", op, ErrUnavailable, status)
	}
	if _, err := unwrapObj(body); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
