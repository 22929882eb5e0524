package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/yndnr/syncroom-go/internal/cluster"
	"github.com/yndnr/syncroom-go/internal/core/arbiter"
	"github.com/yndnr/syncroom-go/internal/core/domain"
	"github.com/yndnr/syncroom-go/internal/core/presence"
)

// Response is the standard API response envelope.
// All JSON responses use this format (except /metrics which uses Prometheus format).
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// NewResponse creates a success response.
func NewResponse(requestID string, data any) *Response {
	return &Response{
		Code:      "OK",
		Message:   "Success",
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(requestID, code, message string, details any) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Details:   details,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// ListConnectorsQuery is the query of GET /connectors.
type ListConnectorsQuery struct {
	Owner  string `json:"owner" validate:"omitempty,max=128"`
	Status string `json:"status" validate:"omitempty,oneof=online offline idle"`
}

// SetStatusRequest is the request body for POST /connectors/{id}/status.
type SetStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=online offline idle"`
}

// ConnectorIDParam validates connector ids taken from the path.
type ConnectorIDParam struct {
	ID string `json:"id" validate:"required,max=128"`
}

// ListConnectorsResponse is the response body for GET /connectors.
type ListConnectorsResponse struct {
	Items []*domain.Connector `json:"items"`
	Total int                 `json:"total"`
}

// LocationResponse is the response body for GET /connectors/{id}/location.
type LocationResponse struct {
	ConnectorID string `json:"connector_id"`
	Node        string `json:"node"`
	// HandleID is set only when the process is bound on this node.
	HandleID string `json:"handle_id,omitempty"`
	Local    bool   `json:"local"`
}

// ClusterMembersResponse is the response body for GET /cluster/members.
type ClusterMembersResponse struct {
	Local   string         `json:"local"`
	Members []cluster.Node `json:"members"`
}

// GroupResponse is the response body for GET /cluster/groups/{group}.
type GroupResponse struct {
	Group   string            `json:"group"`
	Members []presence.Member `json:"members"`
}

// RoomStateResponse is the response body for GET /rooms/{room}/{kind}.
type RoomStateResponse = arbiter.Snapshot

// ListRoomsResponse is the response body for GET /rooms.
type ListRoomsResponse struct {
	Resources []domain.ResourceID `json:"resources"`
}

// decodeBody decodes a JSON body and validates it.
func decodeBody(body []byte, v any) error {
	if len(body) == 0 {
		return domain.ErrBadRequest.WithDetails("request body is required")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return domain.ErrBadRequest.WithDetails("invalid request body").WithCause(err)
	}
	return validateStruct(v)
}

// validateStruct runs the struct validator and folds its field errors into
// one ErrInvalidArgument.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.ErrInvalidArgument.WithCause(err)
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag()))
		}
	}
	return domain.ErrInvalidArgument.WithDetails(strings.Join(parts, "; "))
}
