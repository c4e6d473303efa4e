// Package telemetry provides request tagging for structured logging and metrics.
package telemetry

import (
	"context"
	"net/http"
)

type contextKey string

const (
	// requestTagsKey is the context key for request tags holder.
	requestTagsKey contextKey = "request_tags"
	// categoryKey is the context key for propagating a cache category to background goroutines.
	categoryKey contextKey = "category"
)

// RequestTags holds mutable request metadata that handlers can set for logging.
type RequestTags struct {
	Endpoint string
	Category string
}

// InjectTags creates a new request with an empty RequestTags in context.
// Call this in middleware before handlers run.
func InjectTags(r *http.Request) *http.Request {
	tags := &RequestTags{}
	return r.WithContext(context.WithValue(r.Context(), requestTagsKey, tags))
}

// GetTags retrieves the request tags from context.
// Returns nil if not in a request context with logging middleware.
func GetTags(r *http.Request) *RequestTags {
	if tags, ok := r.Context().Value(requestTagsKey).(*RequestTags); ok {
		return tags
	}
	return nil
}

// SetEndpoint sets the endpoint name for logging and metrics.
func SetEndpoint(r *http.Request, endpoint string) {
	if tags := GetTags(r); tags != nil {
		tags.Endpoint = endpoint
	}
}

// SetCategory sets the cache category the request operates on.
func SetCategory(r *http.Request, category string) {
	if tags := GetTags(r); tags != nil {
		tags.Category = category
	}
}

// CategoryFromContext retrieves the cache category from a context.
// It checks both background contexts (set by WithCategoryContext) and
// request contexts (set by SetCategory via InjectTags).
func CategoryFromContext(ctx context.Context) string {
	if c, ok := ctx.Value(categoryKey).(string); ok && c != "" {
		return c
	}
	if tags, ok := ctx.Value(requestTagsKey).(*RequestTags); ok && tags != nil {
		return tags.Category
	}
	return ""
}

// WithCategoryContext returns a context with the category stored.
// Use this to propagate the category into goroutines that outlive the request context.
func WithCategoryContext(ctx context.Context, category string) context.Context {
	return context.WithValue(ctx, categoryKey, category)
}
