package testhelpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// MockModelServer is a scripted generative model endpoint. Each request
// consumes the next status from Statuses; once exhausted, requests succeed
// with Reply wrapped in the Gemini response envelope.
type MockModelServer struct {
	Server *httptest.Server

	mu             sync.Mutex
	Statuses       []int
	Reply          string
	requestCount   int
	lastAuthHeader string
	lastBody       map[string]any
}

func SetupMockModelServer(t *testing.T, reply string, statuses ...int) *MockModelServer {
	t.Helper()

	mock := &MockModelServer{
		Statuses: statuses,
		Reply:    reply,
	}

	mock.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		defer mock.mu.Unlock()

		mock.requestCount++
		mock.lastAuthHeader = r.Header.Get("Authorization")

		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mock.lastBody = body

		if len(mock.Statuses) > 0 {
			status := mock.Statuses[0]
			mock.Statuses = mock.Statuses[1:]
			if status != http.StatusOK {
				http.Error(w, http.StatusText(status), status)
				return
			}
		}

		WriteJSON(w, map[string]any{
			"candidates": []any{
				map[string]any{
					"content": map[string]any{
						"parts": []any{
							map[string]any{"text": mock.Reply},
						},
					},
				},
			},
		})
	}))
	t.Cleanup(mock.Server.Close)

	return mock
}

func (m *MockModelServer) URL() string {
	return m.Server.URL
}

func (m *MockModelServer) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount
}

func (m *MockModelServer) LastAuthHeader() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastAuthHeader
}

func (m *MockModelServer) LastBody() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastBody
}

// WriteJSON is a helper function that writes a JSON response.
// It sets the Content-Type header and marshals the payload to JSON.
func WriteJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(payload)
	if err != nil {
		// In test context, this should never happen with valid test data
		http.Error(w, fmt.Sprintf("failed to marshal JSON: %v", err), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(data)
}

// RomeItinerary is a well-formed model reply used across tests.
const RomeItinerary = `{"destination":"Rome","stops":[` +
	`{"name":"Colosseum","distanceFromPrevious":"0 km","timeToSpend":"2h 0m","description":"Ancient amphitheater"},` +
	`{"name":"Roman Forum","distanceFromPrevious":"0.5 km","timeToSpend":"1h 30m","description":"Ruins of the civic centre"}` +
	`],"totalDistance":"0.5 km","totalTime":"8h 30m"}`
