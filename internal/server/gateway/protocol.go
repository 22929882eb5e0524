package gateway

import (
	"encoding/json"
	"errors"

	"github.com/yndnr/syncroom-go/internal/core/domain"
)

// Reserved events.
const (
	EventJoin      = "phx_join"
	EventLeave     = "phx_leave"
	EventReply     = "phx_reply"
	EventError     = "phx_error"
	EventClose     = "phx_close"
	EventHeartbeat = "heartbeat"

	// SystemTopic carries socket-level heartbeats.
	SystemTopic = "phoenix"

	// ClientNamespace is an optional topic prefix. Device clients join
	// "sensocto:connector:<id>", which is served as "connector:<id>".
	ClientNamespace = "sensocto:"
)

// Reply statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Message is one websocket frame.
type Message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Ref     string          `json:"ref,omitempty"`
}

// Reply is the payload of a phx_reply frame.
type Reply struct {
	Status   string `json:"status"`
	Response any    `json:"response"`
}

// ErrorResponse is the response of an error reply.
type ErrorResponse struct {
	Reason  string `json:"reason"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func okReply(response any) Reply {
	if response == nil {
		response = struct{}{}
	}
	return Reply{Status: StatusOK, Response: response}
}

func errorReply(reason string, err error) Reply {
	resp := ErrorResponse{Reason: reason}
	if err != nil {
		var de *domain.DomainError
		if errors.As(err, &de) {
			resp.Code = de.Code
			resp.Message = de.Message
			if de.Details != "" {
				resp.Message += ": " + de.Details
			}
		} else {
			resp.Message = err.Error()
		}
	}
	return Reply{Status: StatusError, Response: resp}
}

// reasonFor maps errors to the short reasons clients switch on.
func reasonFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotController):
		return "not_controller"
	case errors.Is(err, domain.ErrNotRequester):
		return "not_requester"
	case errors.Is(err, domain.ErrResourceControlled):
		return "resource_controlled"
	case errors.Is(err, domain.ErrRequestAlreadyPending):
		return "request_already_pending"
	case errors.Is(err, domain.ErrNoPendingRequest):
		return "no_pending_request"
	case errors.Is(err, domain.ErrInvalidDelta):
		return "invalid_update"
	case errors.Is(err, domain.ErrNoBinding), errors.Is(err, domain.ErrStaleHandle):
		return "not_bound"
	case errors.Is(err, domain.ErrResourceElsewhere):
		return "wrong_node"
	case errors.Is(err, domain.ErrConnectorNotFound), errors.Is(err, domain.ErrResourceNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrConnectorValidation),
		errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrMissingArgument),
		errors.Is(err, domain.ErrUnknownResourceKind),
		errors.Is(err, domain.ErrBadRequest):
		return "bad_request"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrStorageError):
		return "storage_error"
	case errors.Is(err, domain.ErrServiceUnavailable):
		return "unavailable"
	}
	return "internal_error"
}

// decodePayload unmarshals an optional payload. An empty payload leaves v
// untouched.
func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return domain.ErrBadRequest.WithDetails("malformed payload").WithCause(err)
	}
	return nil
}
