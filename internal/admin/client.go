package admin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/whisper/chat-filter/internal/protocol"
)

// Requester sends one request and waits for its reply.
// *messaging.NATSClient satisfies it through AdminRequest.
type Requester interface {
	AdminRequest(ctx context.Context, data []byte) ([]byte, error)
}

// RemoteError is an error response returned by the moderator.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("admin: %s: %s", e.Code, e.Message)
}

// Call sends an admin request and returns the raw response. A response of
// type error is returned as a *RemoteError.
func Call(ctx context.Context, r Requester, msgType string, payload interface{}) ([]byte, error) {
	id := uuid.NewString()
	req, err := protocol.NewRequest(msgType, id, payload)
	if err != nil {
		return nil, err
	}

	resp, err := r.AdminRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	var head struct {
		Type    string `json:"type"`
		ID      string `json:"id"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(resp, &head); err != nil {
		return nil, fmt.Errorf("admin: decode response: %w", err)
	}
	if head.Type == protocol.TypeError {
		return nil, &RemoteError{Code: head.Code, Message: head.Message}
	}
	if head.ID != "" && head.ID != id {
		return nil, fmt.Errorf("admin: response id %q does not match request %q", head.ID, id)
	}
	return resp, nil
}
