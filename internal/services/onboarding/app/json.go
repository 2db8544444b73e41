package app

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/emberline/threshold/internal/platform/errors"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// writeError renders a domain error with its mapped HTTP status. Errors
// outside the domain taxonomy render as an unknown internal failure.
func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	response := errorResponse{
		Code:    string(code),
		Message: err.Error(),
	}
	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) {
		response.Metadata = domainErr.Metadata
	}
	writeJSON(w, code.HTTPStatus(), response)
}

func decodeJSON(r *http.Request, target any) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return apperrors.Wrap(apperrors.CodeBadRequest, "decode request body", err)
	}
	return nil
}
