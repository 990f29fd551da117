package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"taskboard/api/internal/store"
)

// TransportError is a move or fetch that did not complete: the request never
// reached the server, or the server answered with a non-2xx status.
type TransportError struct {
	Op      string
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %d %s: %s", e.Op, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// API is a small HTTP client for the board endpoints.
type API struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewAPI(baseURL, token string, httpClient *http.Client) *API {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

// MoveResult is the part of a column or task response the client needs.
type MoveResult struct {
	UUID     string `json:"uuid"`
	Position int    `json:"position"`
	Version  int64  `json:"version"`
}

func (a *API) GetBoard(ctx context.Context, boardUUID string) (store.BoardDetail, error) {
	var board store.BoardDetail
	err := a.do(ctx, "get board", http.MethodGet, "/api/boards/"+boardUUID, nil, &board)
	return board, err
}

func (a *API) ListBoards(ctx context.Context) ([]store.Board, error) {
	var boards []store.Board
	err := a.do(ctx, "list boards", http.MethodGet, "/api/boards", nil, &boards)
	return boards, err
}

func (a *API) MoveTask(ctx context.Context, taskUUID, columnUUID string, position int) (MoveResult, error) {
	body := map[string]any{"column_uuid": columnUUID, "position": position}
	var result MoveResult
	err := a.do(ctx, "move task", http.MethodPut, "/api/tasks/"+taskUUID, body, &result)
	return result, err
}

func (a *API) MoveColumn(ctx context.Context, columnUUID string, position int) (MoveResult, error) {
	body := map[string]any{"position": position}
	var result MoveResult
	err := a.do(ctx, "move column", http.MethodPut, "/api/columns/"+columnUUID, body, &result)
	return result, err
}

func (a *API) do(ctx context.Context, op, method, path string, body, target any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Code  string `json:"code"`
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&payload)
		return &TransportError{
			Op:      op,
			Status:  resp.StatusCode,
			Code:    payload.Code,
			Message: payload.Error,
			Err:     errors.New(http.StatusText(resp.StatusCode)),
		}
	}
	if target == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return &TransportError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
