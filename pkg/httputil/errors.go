package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/edgeflare/advres/pkg/store"
)

// ErrorResponse is an error carrying the HTTP status code it should be
// answered with.
type ErrorResponse struct {
	Message    string
	StatusCode int
}

// NewErrorResponse returns an error that renders as statusCode with message.
func NewErrorResponse(message string, statusCode int) *ErrorResponse {
	return &ErrorResponse{Message: message, StatusCode: statusCode}
}

func (e *ErrorResponse) Error() string {
	return e.Message
}

// Status returns the HTTP status code.
func (e *ErrorResponse) Status() int {
	return e.StatusCode
}

// StatusError is implemented by errors that choose their own response status.
type StatusError interface {
	error
	Status() int
}

// HandlerFunc is an http.Handler that may fail. A returned error is rendered
// with RenderError; the handler must not have written a response in that case.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

func (h HandlerFunc) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h(w, r); err != nil {
		RenderError(w, r, err)
	}
}

// ErrorMapping translates errors matched by Match into a status and message.
// An empty Message uses the error text.
type ErrorMapping struct {
	Match   func(error) bool
	Status  int
	Message string
}

// DefaultErrorMappings returns the error translation table. The first
// matching entry wins; unmatched errors become 500 "Server Error".
func DefaultErrorMappings() []ErrorMapping {
	return []ErrorMapping{
		{Match: func(err error) bool {
			var se StatusError
			return errors.As(err, &se)
		}},
		{Match: func(err error) bool {
			var mbe *http.MaxBytesError
			return errors.As(err, &mbe)
		}, Status: http.StatusRequestEntityTooLarge, Message: "Request body too large"},
		{Match: is(store.ErrInvalidField), Status: http.StatusBadRequest},
		{Match: is(store.ErrUnknownRelation), Status: http.StatusBadRequest},
		{Match: is(store.ErrNotFound), Status: http.StatusNotFound, Message: "Resource not found"},
		{Match: is(store.ErrDuplicate), Status: http.StatusBadRequest, Message: "Duplicate field value entered"},
		{Match: is(context.DeadlineExceeded), Status: http.StatusGatewayTimeout, Message: "Request timed out"},
	}
}

func is(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

// MapError resolves the status and message for err using mappings.
func MapError(err error, mappings []ErrorMapping) (int, string) {
	for _, m := range mappings {
		if !m.Match(err) {
			continue
		}
		if m.Status == 0 {
			var se StatusError
			if errors.As(err, &se) {
				return se.Status(), se.Error()
			}
			continue
		}
		if m.Message == "" {
			return m.Status, err.Error()
		}
		return m.Status, m.Message
	}
	return http.StatusInternalServerError, "Server Error"
}

// ErrorRenderer writes the response for a failed request.
type ErrorRenderer func(w http.ResponseWriter, r *http.Request, err error)

// WithErrorRenderer returns a copy of ctx carrying render.
func WithErrorRenderer(ctx context.Context, render ErrorRenderer) context.Context {
	return context.WithValue(ctx, ErrorRendererCtxKey, render)
}

// RenderError writes err through the renderer installed in the request
// context, falling back to the default mapping table.
func RenderError(w http.ResponseWriter, r *http.Request, err error) {
	if render, ok := r.Context().Value(ErrorRendererCtxKey).(ErrorRenderer); ok && render != nil {
		render(w, r, err)
		return
	}
	status, message := MapError(err, DefaultErrorMappings())
	Error(w, status, message)
}

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Error sends a JSON response with an error code and message.
func Error(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(errorBody{Error: message}); err != nil {
		http.Error(w, "Failed to encode error response", http.StatusInternalServerError)
	}
}
