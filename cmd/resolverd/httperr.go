package main

import (
	"encoding/json"
	"net/http"

	rerrors "github.com/resolvecore/resolver/pkg/obs/errors"
)

// statusFor maps a rerrors.Kind to the HTTP status code the facade responds
// with, per spec.md §7's error taxonomy.
func statusFor(kind rerrors.Kind) int {
	switch kind {
	case rerrors.KindInvalidInput, rerrors.KindSanitizationRequired, rerrors.KindInvalidModelOutput:
		return http.StatusBadRequest
	case rerrors.KindNotFound:
		return http.StatusNotFound
	case rerrors.KindConflict:
		return http.StatusConflict
	case rerrors.KindInvalidTransition:
		return http.StatusUnprocessableEntity
	case rerrors.KindRateLimited:
		return http.StatusTooManyRequests
	case rerrors.KindProviderUnavailable, rerrors.KindAllProvidersUnavailable:
		return http.StatusServiceUnavailable
	case rerrors.KindDeadlineExceeded:
		return http.StatusGatewayTimeout
	case rerrors.KindCancelled:
		return 499 // client closed request, nginx convention
	case rerrors.KindIntegrityError:
		return http.StatusInternalServerError
	case rerrors.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorBody is the stable JSON error shape every handler writes on failure:
// a Kind callers can branch on and the taxonomy's fixed message, never a raw
// error string (spec.md §7: "no raw stack traces cross the boundary").
type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	kind := rerrors.KindOf(err)
	re, ok := asResolutionError(err)
	msg := stableMessage(kind)
	if ok {
		msg = re.Message()
	}
	writeJSON(w, statusFor(kind), errorBody{Kind: string(kind), Message: msg})
}

func asResolutionError(err error) (*rerrors.ResolutionError, bool) {
	re, ok := err.(*rerrors.ResolutionError)
	return re, ok
}

func stableMessage(kind rerrors.Kind) string {
	return rerrors.New(kind, "", "", "", nil).Message()
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
