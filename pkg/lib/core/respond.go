package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/appetiteclub/apt"
)

const MaxBodyBytes = 1 << 20

// RespondErr maps a taxonomy error to its status code and writes the apt error
// envelope. Unclassified errors are reported with the fallback message so
// internals do not leak.
func RespondErr(w http.ResponseWriter, err error, fallback string) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = fallback
	}
	apt.Error(w, status, codeFor(err), msg)
}

func codeFor(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrIllegalState):
		return "illegal_state"
	case errors.Is(err, ErrTransientGateway):
		return "transient_gateway"
	case errors.Is(err, ErrSignatureInvalid):
		return "signature_invalid"
	default:
		return "internal_error"
	}
}

// RespondCreated writes the apt success envelope with a 201 status.
func RespondCreated(w http.ResponseWriter, data interface{}, links ...apt.Link) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(apt.SuccessResponse{Data: data, Links: links})
}

// DecodeJSON reads a size-limited JSON body into dst.
func DecodeJSON(r *http.Request, dst interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: cannot read body", ErrValidation)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: invalid JSON payload", ErrValidation)
	}
	return nil
}
