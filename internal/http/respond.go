package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/evanshlom/AwsAiProd/internal/platform"
	"github.com/evanshlom/AwsAiProd/internal/repository"
	"github.com/evanshlom/AwsAiProd/internal/service/chat"
	"github.com/evanshlom/AwsAiProd/internal/service/evaluate"
	"github.com/evanshlom/AwsAiProd/internal/service/jobs"
	"github.com/evanshlom/AwsAiProd/internal/service/reconcile"
	"github.com/evanshlom/AwsAiProd/internal/service/validate"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusForError maps service errors onto HTTP status codes.
func statusForError(err error) int {
	var rerr *reconcile.Error
	if errors.As(err, &rerr) {
		switch rerr.Reason {
		case reconcile.ReasonValidation:
			return http.StatusBadRequest
		case reconcile.ReasonTimeout:
			return http.StatusGatewayTimeout
		default:
			return http.StatusBadGateway
		}
	}
	switch {
	case errors.Is(err, validate.ErrInvalidRequest),
		errors.Is(err, jobs.ErrInvalidInput),
		errors.Is(err, evaluate.ErrInvalidRequest),
		errors.Is(err, repository.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, jobs.ErrJobNotFound),
		errors.Is(err, platform.ErrNotFound),
		errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrNoStore):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
