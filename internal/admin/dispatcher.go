// Package admin routes administrative requests (pattern and exclusion
// management, violation queries, resets, reloads) to the running moderator.
package admin

import (
	"context"
	"errors"
	"log/slog"

	"github.com/whisper/chat-filter/internal/protocol"
	"github.com/whisper/chat-filter/internal/violation"
)

// ErrInvalidArgument marks a request whose fields are missing or malformed.
var ErrInvalidArgument = errors.New("invalid argument")

// Handler handles one parsed admin request. msg is the concrete struct
// returned by protocol.ParseRequest. It returns the response type and
// payload, or an error that is reported back as an error response.
type Handler func(ctx context.Context, msg interface{}) (string, interface{}, error)

// Dispatcher routes admin requests to registered handlers based on the
// message type. Ping is answered internally, and parse failures or
// unregistered types produce structured error responses.
type Dispatcher struct {
	handlers map[string]Handler
	logger   *slog.Logger
}

func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[string]Handler),
		logger:   logger.With("component", "admin"),
	}
}

// Register associates a Handler with a message type, replacing any handler
// already registered for it. Register is not safe to call concurrently with
// Dispatch.
func (d *Dispatcher) Register(msgType string, h Handler) {
	d.handlers[msgType] = h
}

// Dispatch parses data, runs the matching handler and returns the encoded
// response. It always returns a response.
func (d *Dispatcher) Dispatch(ctx context.Context, data []byte) []byte {
	env, msg, err := protocol.ParseRequest(data)
	if err != nil {
		if env.Type != "" {
			d.logger.Warn("unsupported request", "type", env.Type, "err", err)
			return d.errorResponse(env.ID, protocol.CodeUnsupportedType, err.Error())
		}
		d.logger.Warn("parse error", "err", err)
		return d.errorResponse("", protocol.CodeParseError, "invalid message format")
	}

	if env.Type == protocol.TypePing {
		return d.respond(env.ID, protocol.TypePong, protocol.PongMsg{})
	}

	h, ok := d.handlers[env.Type]
	if !ok {
		d.logger.Warn("unsupported request", "type", env.Type)
		return d.errorResponse(env.ID, protocol.CodeUnsupportedType, "unsupported message type")
	}

	respType, payload, err := h(ctx, msg)
	if err != nil {
		code := protocol.CodeFailed
		if errors.Is(err, ErrInvalidArgument) || errors.Is(err, violation.ErrInvalidAuthor) {
			code = protocol.CodeInvalidArgument
		}
		d.logger.Warn("request failed", "type", env.Type, "id", env.ID, "err", err)
		return d.errorResponse(env.ID, code, err.Error())
	}

	d.logger.Debug("request handled", "type", env.Type, "id", env.ID)
	return d.respond(env.ID, respType, payload)
}

func (d *Dispatcher) respond(id, msgType string, payload interface{}) []byte {
	data, err := protocol.NewResponse(msgType, id, payload)
	if err != nil {
		d.logger.Error("failed to build response", "type", msgType, "err", err)
		return d.errorResponse(id, protocol.CodeFailed, "failed to encode response")
	}
	return data
}

func (d *Dispatcher) errorResponse(id, code, message string) []byte {
	data, err := protocol.NewResponse(protocol.TypeError, id, protocol.ErrorMsg{
		Code:    code,
		Message: message,
	})
	if err != nil {
		// ErrorMsg always encodes; keep the reply well-formed regardless.
		return []byte(`{"type":"error","code":"failed"}`)
	}
	return data
}
