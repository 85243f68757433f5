package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/thereayou/clubchat/internal/handlers/dto"
	"github.com/thereayou/clubchat/internal/models"
)

// API is the HTTP surface the engine talks to.
type API interface {
	History(ctx context.Context, roomID uint64, before *uint64, limit int) (*dto.HistoryResponse, error)
	Send(ctx context.Context, roomID uint64, body string, replyTo *uint64) (*dto.MessageResponse, error)
	Edit(ctx context.Context, roomID, messageID uint64, body string) (*dto.MessageResponse, error)
	Delete(ctx context.Context, roomID, messageID uint64, forEveryone bool) (*dto.MessageResponse, error)
	Unsend(ctx context.Context, roomID, messageID uint64) (*dto.MessageResponse, error)
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status     int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// IsRateLimited reports whether err is a 429 and how long to wait.
func IsRateLimited(err error) (time.Duration, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests {
		return apiErr.RetryAfter, true
	}
	return 0, false
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code       string `json:"code"`
		Message    string `json:"message"`
		RetryAfter int    `json:"retry_after"`
	} `json:"error"`
}

// HTTPAPI calls the chat routes with a bearer token.
type HTTPAPI struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPAPI(baseURL, token string, timeout time.Duration) *HTTPAPI {
	return &HTTPAPI{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (a *HTTPAPI) messagesPath(roomID uint64) string {
	return fmt.Sprintf("%s/api/clubs/%d/chat/messages", a.baseURL, roomID)
}

func (a *HTTPAPI) History(ctx context.Context, roomID uint64, before *uint64, limit int) (*dto.HistoryResponse, error) {
	q := url.Values{}
	q.Set("before", "")
	if before != nil {
		q.Set("before", strconv.FormatUint(*before, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var out dto.HistoryResponse
	if err := a.do(ctx, http.MethodGet, a.messagesPath(roomID)+"?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *HTTPAPI) Send(ctx context.Context, roomID uint64, body string, replyTo *uint64) (*dto.MessageResponse, error) {
	var out dto.MessageResponse
	req := dto.SendMessageRequest{Message: body, ReplyToMessageID: replyTo}
	if err := a.do(ctx, http.MethodPost, a.messagesPath(roomID), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *HTTPAPI) Edit(ctx context.Context, roomID, messageID uint64, body string) (*dto.MessageResponse, error) {
	var out dto.MessageResponse
	path := fmt.Sprintf("%s/%d", a.messagesPath(roomID), messageID)
	if err := a.do(ctx, http.MethodPatch, path, dto.EditMessageRequest{Message: body}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *HTTPAPI) Delete(ctx context.Context, roomID, messageID uint64, forEveryone bool) (*dto.MessageResponse, error) {
	var out dto.MessageResponse
	path := fmt.Sprintf("%s/%d?forEveryone=%t", a.messagesPath(roomID), messageID, forEveryone)
	if err := a.do(ctx, http.MethodDelete, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *HTTPAPI) Unsend(ctx context.Context, roomID, messageID uint64) (*dto.MessageResponse, error) {
	var out dto.MessageResponse
	path := fmt.Sprintf("%s/%d/unsend", a.messagesPath(roomID), messageID)
	if err := a.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Me asks the server who the token belongs to.
func (a *HTTPAPI) Me(ctx context.Context) (models.Identity, error) {
	var ident models.Identity
	err := a.do(ctx, http.MethodGet, a.baseURL+"/api/auth/me", nil, &ident)
	return ident, err
}

func (a *HTTPAPI) do(ctx context.Context, method, target string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return &APIError{Status: resp.StatusCode, Code: "BAD_RESPONSE", Message: err.Error()}
	}

	if resp.StatusCode >= 300 || !env.Success {
		apiErr := &APIError{Status: resp.StatusCode}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.RetryAfter = time.Duration(env.Error.RetryAfter) * time.Second
		}
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && apiErr.RetryAfter == 0 {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}
