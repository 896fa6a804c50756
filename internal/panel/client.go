package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"VPN-Manager-bot/internal/db"
	"VPN-Manager-bot/internal/logger"

	"go.uber.org/zap"
)

const (
	loginPath             = "/login"
	getInboundPath        = "/panel/api/inbounds/get/%d"
	addClientPath         = "/panel/api/inbounds/addClient"
	updateClientPath      = "/panel/api/inbounds/updateClient/%s"
	deleteClientPath      = "/panel/api/inbounds/%d/delClient/%s"
	delDepletedPath       = "/panel/inbound/delDepletedClients/-1"
	listInboundsPath      = "/panel/inbound/list"
	sessionCookieName     = "3x-ui"
	defaultRequestTimeout = 30 * time.Second
)

// Client инкапсулирует HTTP-протокол панели 3x-ui.
// Сессия короткоживущая: каждая логическая операция логинится заново,
// чтобы не ловить протухшие cookie.
type Client struct {
	http *http.Client
}

func New() *Client {
	return &Client{http: &http.Client{Timeout: defaultRequestTimeout}}
}

// Session — сессионная cookie, полученная от /login.
type Session struct {
	Cookie string
}

// Login аутентифицируется на панели и возвращает сессию.
func (c *Client) Login(ctx context.Context, srv *db.Server) (*Session, error) {
	body, _ := json.Marshal(map[string]string{
		"username": srv.Username,
		"password": srv.Password,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.BaseURL+loginPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode)
	}
	for _, cookie := range resp.Cookies() {
		if cookie.Name == sessionCookieName && cookie.Value != "" {
			return &Session{Cookie: cookie.Value}, nil
		}
	}
	return nil, fmt.Errorf("%w: no session cookie", ErrAuth)
}

// GetInbound запрашивает inbound с настройками клиентов.
func (c *Client) GetInbound(ctx context.Context, sess *Session, srv *db.Server, inboundID int) (*Inbound, error) {
	url := srv.BaseURL + fmt.Sprintf(getInboundPath, inboundID)
	status, body, err := c.do(ctx, http.MethodGet, url, sess, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &RemoteError{Status: status, Body: string(body)}
	}
	var parsed inboundResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("panel: bad inbound response: %w", err)
	}
	if parsed.Obj == nil {
		return nil, fmt.Errorf("%w: inbound %d", ErrNotFound, inboundID)
	}
	return parsed.Obj, nil
}

// FindClient — чистый поиск клиента по email в распарсенном inbound.
// Битый settings считается за "не найдено": один кривой inbound не должен
// мешать поиску клиента в соседних.
func FindClient(in *Inbound, email string) (*ClientCredential, bool) {
	clients, err := in.ParseClients()
	if err != nil {
		logger.Error("Не удалось распарсить settings inbound", zap.Int("inbound_id", in.ID), zap.Error(err))
		return nil, false
	}
	for i := range clients {
		if strings.EqualFold(clients[i].Email, email) {
			return &clients[i], true
		}
	}
	return nil, false
}

// AddClient создаёт клиента внутри указанного inbound.
func (c *Client) AddClient(ctx context.Context, sess *Session, srv *db.Server, inboundID int, cred ClientCredential) error {
	return c.postClient(ctx, sess, srv.BaseURL+addClientPath, inboundID, cred)
}

// UpdateClient заменяет клиентскую запись целиком. Панель не умеет patch,
// поэтому вызывающий обязан передать полный объект, прочитанный перед
// изменением, а не собранный с нуля.
func (c *Client) UpdateClient(ctx context.Context, sess *Session, srv *db.Server, inboundID int, cred ClientCredential) error {
	url := srv.BaseURL + fmt.Sprintf(updateClientPath, cred.ID)
	return c.postClient(ctx, sess, url, inboundID, cred)
}

func (c *Client) postClient(ctx context.Context, sess *Session, url string, inboundID int, cred ClientCredential) error {
	settings, err := json.Marshal(ClientSettings{Clients: []ClientCredential{cred}})
	if err != nil {
		return err
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"id":       inboundID,
		"settings": string(settings),
	})
	status, body, err := c.do(ctx, http.MethodPost, url, sess, payload)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &RemoteError{Status: status, Body: string(body)}
	}
	var result apiResponse
	if err := json.Unmarshal(body, &result); err == nil && !result.Success && result.Msg != "" {
		return &RemoteError{Status: status, Body: result.Msg}
	}
	return nil
}

// DeleteClient удаляет клиента из inbound. 404 считается ошибкой,
// логируется вызывающим, повторов не делаем.
func (c *Client) DeleteClient(ctx context.Context, sess *Session, srv *db.Server, inboundID int, clientID string) error {
	url := srv.BaseURL + fmt.Sprintf(deleteClientPath, inboundID, clientID)
	status, body, err := c.do(ctx, http.MethodPost, url, sess, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &RemoteError{Status: status, Body: string(body)}
	}
	return nil
}

// DeleteDepletedClients чистит на панели клиентов с исчерпанным трафиком.
func (c *Client) DeleteDepletedClients(ctx context.Context, sess *Session, srv *db.Server) error {
	status, body, err := c.do(ctx, http.MethodPost, srv.BaseURL+delDepletedPath, sess, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &RemoteError{Status: status, Body: string(body)}
	}
	return nil
}

// CountActiveClients считает уникальные email по всем inbound серверу.
// Используется только для оценки занятости: ошибка на одном inbound
// не прерывает подсчёт по остальным.
func (c *Client) CountActiveClients(ctx context.Context, sess *Session, srv *db.Server) (int, error) {
	seen := make(map[string]struct{})
	for _, inboundID := range srv.InboundIDList() {
		in, err := c.GetInbound(ctx, sess, srv, inboundID)
		if err != nil {
			logger.Error("Пропускаем inbound при подсчёте клиентов",
				zap.Uint("server_id", srv.ID), zap.Int("inbound_id", inboundID), zap.Error(err))
			continue
		}
		clients, err := in.ParseClients()
		if err != nil {
			logger.Error("Битый settings при подсчёте клиентов",
				zap.Uint("server_id", srv.ID), zap.Int("inbound_id", inboundID), zap.Error(err))
			continue
		}
		for _, cred := range clients {
			if cred.Email != "" {
				seen[strings.ToLower(cred.Email)] = struct{}{}
			}
		}
	}
	return len(seen), nil
}

// ForEachClient обходит всех клиентов всех inbound сервера.
// Кривые inbound пропускаются, обход продолжается.
func (c *Client) ForEachClient(ctx context.Context, sess *Session, srv *db.Server, fn func(inboundID int, in *Inbound, cred ClientCredential)) {
	for _, inboundID := range srv.InboundIDList() {
		in, err := c.GetInbound(ctx, sess, srv, inboundID)
		if err != nil {
			logger.Error("Пропускаем inbound при обходе клиентов",
				zap.Uint("server_id", srv.ID), zap.Int("inbound_id", inboundID), zap.Error(err))
			continue
		}
		clients, err := in.ParseClients()
		if err != nil {
			continue
		}
		for _, cred := range clients {
			fn(inboundID, in, cred)
		}
	}
}

func (c *Client) do(ctx context.Context, method, url string, sess *Session, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sess != nil {
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: sess.Cookie})
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, respBody, nil
}
