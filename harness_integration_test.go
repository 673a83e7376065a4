//go:build integration

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/wayfarer/wayfarer/internal/config"
	"github.com/wayfarer/wayfarer/internal/graph"
	"github.com/wayfarer/wayfarer/internal/itinerary"
	"github.com/wayfarer/wayfarer/internal/server"
	"github.com/wayfarer/wayfarer/internal/testhelpers"
)

// APITestHarness manages the complete test environment for API integration tests.
// It runs the service wiring against a scripted model endpoint, a file-backed
// user store and a mock Graph API.
type APITestHarness struct {
	t         *testing.T
	Server    *httptest.Server
	ModelMock *testhelpers.MockModelServer
	GraphMock *MockGraphServer
	Config    config.Config
}

// APITestHarnessOption configures the API test harness.
type APITestHarnessOption func(*config.Config)

// WithAllowedOrigins enables CORS for the given origins.
func WithAllowedOrigins(origins ...string) APITestHarnessOption {
	return func(cfg *config.Config) {
		cfg.Server.AllowedOrigins = origins
	}
}

// NewAPITestHarness creates a complete test harness with all mock servers and
// the API server. The model replies with RomeItinerary after the given
// failure statuses. Cleanup is handled automatically via t.Cleanup().
func NewAPITestHarness(t *testing.T, modelStatuses []int, options ...APITestHarnessOption) *APITestHarness {
	t.Helper()
	testhelpers.SetupLogger(t)
	hooks := &server.ShutdownHooks{}

	t.Cleanup(func() {
		_ = hooks.Execute(t.Context())
	})

	harness := &APITestHarness{
		t:         t,
		ModelMock: testhelpers.SetupMockModelServer(t, testhelpers.RomeItinerary, modelStatuses...),
		GraphMock: SetupMockGraphServer(t),
	}

	cfg := config.Config{
		Authorization: config.AuthorizationConfig{
			SigningKey: testhelpers.TestSigningKey,
			Issuer:     testhelpers.TestIssuer,
			Audience:   testhelpers.TestAudience,
			TokenTTL:   5 * time.Minute,
		},
		Cache: config.CacheConfig{
			Type: "memory",
		},
		Model: config.ModelConfig{
			Provider:        "http",
			Endpoint:        harness.ModelMock.URL(),
			Envelope:        "gemini",
			Name:            "test-model",
			Temperature:     0.7,
			TopP:            0.9,
			MaxOutputTokens: 1000,
			RateBurst:       1,
		},
		Observe: config.ObserveConfig{
			Enabled: false, // Disable observability for tests
		},
		Retry: config.RetryConfig{
			MaxRetries:     2,
			BaseDelay:      time.Millisecond,
			MaxDelay:       5 * time.Millisecond,
			AttemptTimeout: 5 * time.Second,
		},
		Server: config.ServerConfig{
			Port: 0, // Not used for httptest.Server
		},
		Users: config.UsersConfig{
			DSN: "sqlite://" + filepath.Join(t.TempDir(), "users.db"),
		},
	}

	for _, opt := range options {
		opt(&cfg)
	}
	harness.Config = cfg

	svc, err := configureServices(t.Context(), cfg, hooks)
	require.NoError(t, err)

	// Graph is wired directly: the service path requires a real identity.
	svc.Drive = graph.NewDrive(
		harness.GraphMock.Server.URL,
		"contoso.sharepoint.com",
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "graph-token"}),
	)

	handler, err := configureServerRoutes(cfg, svc)
	require.NoError(t, err)

	harness.Server = httptest.NewServer(handler)
	t.Cleanup(harness.Server.Close)

	return harness
}

func (h *APITestHarness) Client() *TestClient {
	return &TestClient{
		baseURL: h.Server.URL,
		client:  http.DefaultClient,
	}
}

// Login registers username and returns a bearer token for it.
func (h *APITestHarness) Login(username string) string {
	h.t.Helper()

	c := h.Client()
	password := "correct horse battery"

	_, status, err := c.RequestJSON(http.MethodPost, "/auth/register", "", credentialsBody(username, password))
	require.NoError(h.t, err)
	require.Equal(h.t, http.StatusCreated, status)

	token, err := c.Login(username, password)
	require.NoError(h.t, err)
	return token
}

// MockGraphServer imitates the subset of the Graph drive API the service
// uses, keeping uploaded files in memory.
type MockGraphServer struct {
	Server *httptest.Server

	mu         sync.Mutex
	files      map[string][]byte
	authHeader string
}

func SetupMockGraphServer(t *testing.T) *MockGraphServer {
	t.Helper()

	mock := &MockGraphServer{files: map[string][]byte{}}

	mock.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		defer mock.mu.Unlock()

		mock.authHeader = r.Header.Get("Authorization")
		path := r.URL.Path
		const root = "/sites/site-1/drives/drive-1/root"

		switch {
		case r.Method == http.MethodGet && path == "/sites/contoso.sharepoint.com:/sites/travel":
			testhelpers.WriteJSON(w, map[string]any{"id": "site-1", "displayName": "Travel"})

		case r.Method == http.MethodGet && path == "/sites/site-1/drives":
			testhelpers.WriteJSON(w, map[string]any{"value": []any{map[string]any{"id": "drive-1", "name": "Documents"}}})

		case r.Method == http.MethodGet && path == root+"/children":
			value := []any{}
			for name, content := range mock.files {
				value = append(value, map[string]any{"id": name, "name": name, "size": len(content)})
			}
			testhelpers.WriteJSON(w, map[string]any{"value": value})

		case r.Method == http.MethodPut && strings.HasPrefix(path, root+":/") && strings.HasSuffix(path, ":/content"):
			name := strings.TrimSuffix(strings.TrimPrefix(path, root+":/"), ":/content")
			content, _ := io.ReadAll(r.Body)
			mock.files[name] = content
			testhelpers.WriteJSON(w, map[string]any{"id": name, "name": name, "size": len(content)})

		case r.Method == http.MethodDelete && strings.HasPrefix(path, root+":/"):
			name := strings.TrimPrefix(path, root+":/")
			if _, ok := mock.files[name]; !ok {
				http.Error(w, "itemNotFound", http.StatusNotFound)
				return
			}
			delete(mock.files, name)
			w.WriteHeader(http.StatusNoContent)

		default:
			http.Error(w, "unexpected request "+r.Method+" "+path, http.StatusBadRequest)
		}
	}))
	t.Cleanup(mock.Server.Close)

	return mock
}

func (m *MockGraphServer) LastAuthHeader() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authHeader
}

// APIError represents a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Body       []byte
	Message    string // parsed from JSON error response if available
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error %d", e.StatusCode)
}

// TestClient provides typed access to the wayfarer API endpoints for testing.
type TestClient struct {
	baseURL string
	client  *http.Client
}

// Response wraps raw HTTP response for low-level assertions.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// Request performs a low-level HTTP request and returns the raw response.
// This method is useful for testing error cases and edge conditions.
func (c *TestClient) Request(method, path, token string, body io.Reader) (*Response, error) {
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       bodyBytes,
		Headers:    resp.Header,
	}, nil
}

// RequestJSON performs a request and returns the parsed JSON response.
// Returns the parsed JSON, status code, and any error.
func (c *TestClient) RequestJSON(method, path, token string, body io.Reader) (map[string]any, int, error) {
	resp, err := c.Request(method, path, token, body)
	if err != nil {
		return nil, 0, err
	}

	var result map[string]any
	if len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, &result); err != nil {
			return nil, resp.StatusCode, fmt.Errorf("parse JSON response: %w", err)
		}
	}

	return result, resp.StatusCode, nil
}

// Login exchanges credentials for a bearer token.
func (c *TestClient) Login(username, password string) (string, error) {
	resp, err := c.Request(http.MethodPost, "/auth/login", "", credentialsBody(username, password))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", c.parseError(resp)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return "", fmt.Errorf("parse login response: %w", err)
	}
	return body.Token, nil
}

// Plan requests an itinerary for destination.
func (c *TestClient) Plan(token, destination string) (*itinerary.Document, error) {
	resp, err := c.Request(http.MethodGet, "/travel/plan/"+destination, token, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var doc itinerary.Document
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		return nil, fmt.Errorf("parse plan response: %w", err)
	}
	return &doc, nil
}

func (c *TestClient) parseError(resp *Response) error {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Body:       resp.Body,
	}

	var errResp ErrorResponse
	if json.Unmarshal(resp.Body, &errResp) == nil {
		apiErr.Message = errResp.Error
	}

	return apiErr
}

func credentialsBody(username, password string) io.Reader {
	body, _ := json.Marshal(credentials{Username: username, Password: password})
	return bytes.NewReader(body)
}
