// Package credentials resolves the service's secrets from a JSON template.
//
// The template may call env, envDefault, file and json, plus any registered
// SecretProvider. The rendered JSON holds the inbound bearer token and the
// routes used to authenticate upstream fills.
package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/template"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	// maxInputSize is the maximum size of a credentials template file (1MB).
	maxInputSize = 1 << 20
	// maxOutputSize is the maximum size of rendered template output (1MB).
	maxOutputSize = 1 << 20
)

// Credentials holds all resolved credential values.
type Credentials struct {
	AuthToken string        `json:"auth_token,omitempty"`
	Sources   []SourceRoute `json:"sources,omitempty"`
}

// SourceRoute authenticates fills whose source URL matches.
type SourceRoute struct {
	Match    SourceMatch `json:"match"`
	Token    string      `json:"token,omitempty"`
	Username string      `json:"username,omitempty"`
	Password string      `json:"password,omitempty"`
}

// SourceMatch selects sources by host and optional path prefix.
type SourceMatch struct {
	Host       string `json:"host,omitempty"`
	PathPrefix string `json:"path_prefix,omitempty"`
	Any        bool   `json:"any,omitempty"`
}

// Validate checks every route has a matcher and exactly one auth scheme.
func (c *Credentials) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Sources),
	)
}

func (r SourceRoute) Validate() error {
	if !r.Match.Any && r.Match.Host == "" {
		return fmt.Errorf("route needs match.host or match.any")
	}
	if r.Token != "" && r.Username != "" {
		return fmt.Errorf("route for %q sets both token and username", r.Match.Host)
	}
	return validation.ValidateStruct(&r,
		validation.Field(&r.Password, validation.When(r.Username == "", validation.Empty)),
	)
}

func (m SourceMatch) matches(u *url.URL) bool {
	if m.Any {
		return true
	}
	if !strings.EqualFold(m.Host, u.Host) {
		return false
	}
	return strings.HasPrefix(u.Path, m.PathPrefix)
}

// Route returns the first route matching the source URL.
func (c *Credentials) Route(u *url.URL) (SourceRoute, bool) {
	if c == nil {
		return SourceRoute{}, false
	}
	for _, r := range c.Sources {
		if r.Match.matches(u) {
			return r, true
		}
	}
	return SourceRoute{}, false
}

// Authorize sets the Authorization header on req from the first matching
// route. Requests with no match are left untouched.
func (c *Credentials) Authorize(req *http.Request) {
	r, ok := c.Route(req.URL)
	if !ok {
		return
	}
	switch {
	case r.Token != "":
		req.Header.Set("Authorization", "Bearer "+r.Token)
	case r.Username != "":
		req.SetBasicAuth(r.Username, r.Password)
	}
}

// SecretProvider resolves a secret reference to its value.
type SecretProvider func(ctx context.Context, ref string) (string, error)

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// Resolver executes a template file and parses the result into Credentials.
type Resolver struct {
	providers map[string]SecretProvider
	logger    *slog.Logger
}

// WithLogger sets the logger for the resolver.
func WithLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithProvider registers a named secret provider as a template function.
func WithProvider(name string, p SecretProvider) ResolverOption {
	return func(r *Resolver) {
		r.providers[name] = p
	}
}

// NewResolver creates a new credential resolver with the given options.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		providers: make(map[string]SecretProvider),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveFile reads and resolves a credentials template file.
func (r *Resolver) ResolveFile(ctx context.Context, path string) (*Credentials, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening credentials file: %w", err)
	}
	defer f.Close()

	creds, err := r.ResolveReader(ctx, f)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("resolved credentials",
		"path", path,
		"auth_token", creds.AuthToken != "",
		"sources", len(creds.Sources),
	)
	return creds, nil
}

// ResolveReader resolves a credentials template from a reader.
func (r *Resolver) ResolveReader(ctx context.Context, reader io.Reader) (*Credentials, error) {
	data, err := io.ReadAll(io.LimitReader(reader, maxInputSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading credentials template: %w", err)
	}
	if len(data) > maxInputSize {
		return nil, fmt.Errorf("credentials template exceeds maximum size of %d bytes", maxInputSize)
	}

	tmpl, err := template.New("credentials").
		Option("missingkey=error").
		Funcs(r.funcMap(ctx)).
		Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parsing credentials template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, nil); err != nil {
		return nil, fmt.Errorf("executing credentials template: %w", err)
	}
	if buf.Len() > maxOutputSize {
		return nil, fmt.Errorf("rendered credentials exceed maximum size of %d bytes", maxOutputSize)
	}

	var creds Credentials
	if err := json.Unmarshal(buf.Bytes(), &creds); err != nil {
		return nil, fmt.Errorf("invalid credentials JSON after template execution: %w", err)
	}
	if err := creds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid credentials: %w", err)
	}
	return &creds, nil
}

// funcMap builds the template functions. Provider lookups are memoized for
// the duration of one render.
func (r *Resolver) funcMap(ctx context.Context) template.FuncMap {
	fm := template.FuncMap{
		"env": func(key string) (string, error) {
			val, ok := os.LookupEnv(key)
			if !ok {
				return "", fmt.Errorf("environment variable %q is not set", key)
			}
			return val, nil
		},
		"envDefault": func(key, fallback string) string {
			if val, ok := os.LookupEnv(key); ok {
				return val
			}
			return fallback
		},
		"file": func(path string) (string, error) {
			data, err := os.ReadFile(path)
			if err != nil {
				return "", fmt.Errorf("reading file %q: %w", path, err)
			}
			return strings.TrimSpace(string(data)), nil
		},
		"json": func(v string) (string, error) {
			b, err := json.Marshal(v)
			if err != nil {
				return "", fmt.Errorf("JSON encoding value: %w", err)
			}
			return string(b), nil
		},
	}

	cache := make(map[string]string)
	for name, provider := range r.providers {
		fm[name] = func(ref string) (string, error) {
			key := name + ":" + ref
			if val, ok := cache[key]; ok {
				return val, nil
			}
			val, err := provider(ctx, ref)
			if err != nil {
				return "", fmt.Errorf("provider %q failed for ref %q: %w", name, ref, err)
			}
			cache[key] = val
			return val, nil
		}
	}
	return fm
}
