// Package httpx holds the JSON request/response helpers and client IP resolution
// shared by the HTTP handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"distrack/backend/internal/platform/apperr"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// ErrorResponse is the body written for every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// WriteJSON writes data as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteError maps err through the apperr taxonomy and writes the error body.
// Internal causes are not exposed to the client.
func WriteError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	_ = WriteJSON(w, apperr.HTTPStatus(kind), ErrorResponse{Error: apperr.Message(err), Code: kind.String()})
}

// WriteErrorLogged writes err like WriteError. Internal errors are logged at
// error level with their cause; taxonomy errors at debug.
func WriteErrorLogged(w http.ResponseWriter, r *http.Request, log logrus.FieldLogger, err error) {
	kind := apperr.KindOf(err)
	if log != nil {
		entry := log.WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path, "code": kind.String()})
		if kind == apperr.Internal {
			entry.WithError(err).Error("request failed")
		} else {
			entry.WithError(err).Debug("request rejected")
		}
	}
	WriteError(w, err)
}

// WriteErrorMessage writes an error body with an explicit kind and message.
func WriteErrorMessage(w http.ResponseWriter, kind apperr.Kind, msg string) {
	_ = WriteJSON(w, apperr.HTTPStatus(kind), ErrorResponse{Error: msg, Code: kind.String()})
}

// WriteTooManyRequests writes a 429 with Retry-After when retryAfter is positive.
func WriteTooManyRequests(w http.ResponseWriter, msg string, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int(retryAfter.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	WriteErrorMessage(w, apperr.RateLimited, msg)
}

// ParseJSON decodes the request body into dest. Unknown fields are ignored;
// an empty or malformed body is InvalidInput.
func ParseJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return apperr.New(apperr.InvalidInput, "request body is required")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.New(apperr.InvalidInput, "request body is required")
		}
		return apperr.Wrap(apperr.InvalidInput, "invalid JSON", fmt.Errorf("decode: %w", err))
	}
	return nil
}

// ParseJSONOrError decodes the body and writes a 400 on failure. Returns false if a response was written.
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := ParseJSON(r, dest); err != nil {
		WriteError(w, err)
		return false
	}
	return true
}
