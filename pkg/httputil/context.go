package httputil

import (
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
)

type ContextKey string

const (
	RequestIDCtxKey     ContextKey = "RequestID"
	LogEntryCtxKey      ContextKey = "LogEntry"
	ResultsCtxKey       ContextKey = "Results"
	BodyCtxKey          ContextKey = "Body"
	CookiesCtxKey       ContextKey = "Cookies"
	FilesCtxKey         ContextKey = "Files"
	PollutedQueryCtxKey ContextKey = "PollutedQuery"
	ErrorRendererCtxKey ContextKey = "ErrorRenderer"
	RouteCtxKey         ContextKey = "Route"
)

// RequestID returns the request ID set by the request ID middleware.
func RequestID(r *http.Request) string {
	id, _ := r.Context().Value(RequestIDCtxKey).(string)
	return id
}

// WithRouteRecorder returns a copy of ctx into which the router stores the
// pattern of the route that handles the request.
func WithRouteRecorder(ctx context.Context, route *string) context.Context {
	return context.WithValue(ctx, RouteCtxKey, route)
}

func recordRoute(r *http.Request) {
	if route, ok := r.Context().Value(RouteCtxKey).(*string); ok && route != nil {
		*route = r.Pattern
	}
}

// Logger returns the request logger installed by the logger middleware, or
// fallback when there is none.
func Logger(r *http.Request, fallback *zap.Logger) *zap.Logger {
	if logger, ok := r.Context().Value(LogEntryCtxKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return fallback
}

// Body returns the parsed JSON object body, if any.
func Body(r *http.Request) (map[string]any, bool) {
	body, ok := r.Context().Value(BodyCtxKey).(map[string]any)
	return body, ok && body != nil
}

// BindBody decodes the parsed JSON body into dst using its json tags.
// Scalars are converted weakly ("5" into an int field).
func BindBody(r *http.Request, dst any) error {
	body, ok := Body(r)
	if !ok {
		return NewErrorResponse("Request body required", http.StatusBadRequest)
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           dst,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(body); err != nil {
		return NewErrorResponse(err.Error(), http.StatusBadRequest)
	}
	return nil
}

// Cookies returns the request cookies by name.
func Cookies(r *http.Request) map[string]string {
	cookies, _ := r.Context().Value(CookiesCtxKey).(map[string]string)
	return cookies
}

// Files returns the uploaded multipart files by form field.
func Files(r *http.Request) map[string][]*multipart.FileHeader {
	files, _ := r.Context().Value(FilesCtxKey).(map[string][]*multipart.FileHeader)
	return files
}

// PollutedQuery returns the repeated query parameters that were collapsed
// to their last value.
func PollutedQuery(r *http.Request) map[string][]string {
	polluted, _ := r.Context().Value(PollutedQueryCtxKey).(map[string][]string)
	return polluted
}

// JSON writes a JSON response with the given status code and data.
func JSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// Text writes a plain text response with the given status code and text content.
func Text(w http.ResponseWriter, statusCode int, text string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(statusCode)
	if _, err := w.Write([]byte(text)); err != nil {
		http.Error(w, "Failed to write response", http.StatusInternalServerError)
	}
}
