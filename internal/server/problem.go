package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/KaramelBytes/districtmatch/internal/dataset"
	"github.com/KaramelBytes/districtmatch/internal/match"
)

// Problem is an RFC 7807 problem document. Hint carries advice for the end
// user when the error has one.
type Problem struct {
	Type      string `json:"type,omitempty"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Instance  string `json:"instance,omitempty"`
	Hint      string `json:"hint,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// StatusFor maps an engine or loader error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, match.ErrConfiguration), errors.Is(err, match.ErrUnsupportedMetric):
		return http.StatusBadRequest
	case errors.Is(err, match.ErrDistrictNotFound), errors.Is(err, dataset.ErrYearUnavailable):
		return http.StatusNotFound
	case errors.Is(err, match.ErrMissingColumn),
		errors.Is(err, match.ErrEmptyColumn),
		errors.Is(err, match.ErrSingularCovariance),
		errors.Is(err, match.ErrNegativeValue),
		errors.Is(err, match.ErrNoFeatures):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func respondProblem(w http.ResponseWriter, r *http.Request, status int, detail, hint string) {
	p := Problem{
		Type:      "about:blank",
		Title:     http.StatusText(status),
		Status:    status,
		Detail:    detail,
		Instance:  r.URL.Path,
		Hint:      hint,
		RequestID: RequestIDFrom(r.Context()),
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		slog.Error("Failed to encode problem response", "error", err)
	}
}

// respondError writes err as a problem document. Internal errors are logged
// and their detail is not exposed.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "path", r.URL.Path, "request_id", RequestIDFrom(r.Context()), "error", err)
		respondProblem(w, r, status, "internal error", "")
		return
	}
	respondProblem(w, r, status, err.Error(), match.Hint(err))
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}
