package arbiter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/yndnr/syncroom-go/internal/core/domain"
)

// decodeDelta strictly decodes delta into v.
func decodeDelta(delta json.RawMessage, v any) error {
	if len(bytes.TrimSpace(delta)) == 0 {
		return domain.ErrInvalidDelta.WithDetails("empty update")
	}
	dec := json.NewDecoder(bytes.NewReader(delta))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.ErrInvalidDelta.WithCause(err).WithDetails(err.Error())
	}
	return nil
}

func invalidDelta(format string, args ...any) error {
	return domain.ErrInvalidDelta.WithDetails(fmt.Sprintf(format, args...))
}

func asDeltaError(err error) error {
	var de *domain.DomainError
	if errors.As(err, &de) {
		return err
	}
	return domain.ErrInvalidDelta.WithCause(err)
}
