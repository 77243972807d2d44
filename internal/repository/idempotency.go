package repository

import (
	"context"
	"fmt"
	"time"
)

// IdempotentResponse is a stored reply to a money-moving request.
type IdempotentResponse struct {
	Method string
	Path   string
	Status int
	Body   []byte
}

// GetIdempotentResponse looks up key for actorID. found is false on a miss.
func (c conn) GetIdempotentResponse(ctx context.Context, key, actorID string) (resp IdempotentResponse, found bool, err error) {
	var body string
	err = c.queryRow(ctx, `
		SELECT method, path, response_status, response_body
		FROM idempotency_keys WHERE key_id = ? AND actor_id = ?
	`, key, actorID).Scan(&resp.Method, &resp.Path, &resp.Status, &body)
	if isNoRows(err) {
		return IdempotentResponse{}, false, nil
	}
	if err != nil {
		return IdempotentResponse{}, false, err
	}
	resp.Body = []byte(body)
	return resp, true, nil
}

// SaveIdempotentResponse keeps the first response stored for key.
func (c conn) SaveIdempotentResponse(ctx context.Context, key, actorID string, resp IdempotentResponse, at time.Time) error {
	_, err := c.exec(ctx, `
		INSERT INTO idempotency_keys(key_id, actor_id, method, path, response_status, response_body, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (key_id, actor_id) DO NOTHING
	`, key, actorID, resp.Method, resp.Path, resp.Status, string(resp.Body), formatTime(at))
	if err != nil {
		return fmt.Errorf("save idempotency key: %w", err)
	}
	return nil
}
