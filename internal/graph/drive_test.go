package graph_test

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wayfarer/wayfarer/internal/failure"
	"github.com/wayfarer/wayfarer/internal/graph"
	"github.com/wayfarer/wayfarer/internal/retry"
	"golang.org/x/oauth2"
)

var fastPolicy = retry.Policy{
	Name:           "graph",
	MaxRetries:     2,
	BaseDelay:      time.Millisecond,
	MaxDelay:       5 * time.Millisecond,
	AttemptTimeout: time.Second,
}

func newDrive(t *testing.T, handler http.HandlerFunc) (*graph.Drive, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	tokens := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "graph-token", TokenType: "Bearer"})
	return graph.NewDrive(srv.URL+"/v1.0", "contoso.sharepoint.com", tokens, graph.WithReadPolicy(fastPolicy)), srv
}

func TestSiteDetails(t *testing.T) {
	var gotPath, gotAuth string
	drive, _ := newDrive(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotAuth = r.Header.Get("Authorization")
		_, _ = io.WriteString(w, `{"id":"site-1","displayName":"Travel"}`)
	})

	raw, err := drive.SiteDetails(t.Context(), "travel")
	require.NoError(t, err)

	assert.JSONEq(t, `{"id":"site-1","displayName":"Travel"}`, string(raw))
	assert.Equal(t, "/v1.0/sites/contoso.sharepoint.com:/sites/travel", gotPath)
	assert.Equal(t, "Bearer graph-token", gotAuth)
}

func TestSiteDetails_RequiresName(t *testing.T) {
	drive, _ := newDrive(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	_, err := drive.SiteDetails(t.Context(), " ")
	assert.True(t, failure.Is(err, failure.KindInvalidInput))
}

func TestDriveID(t *testing.T) {
	t.Run("first drive", func(t *testing.T) {
		drive, _ := newDrive(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1.0/sites/site-1/drives", r.URL.Path)
			_, _ = io.WriteString(w, `{"value":[{"id":"drive-a"},{"id":"drive-b"}]}`)
		})

		id, err := drive.DriveID(t.Context(), "site-1")
		require.NoError(t, err)
		assert.Equal(t, "drive-a", id)
	})

	t.Run("no drives", func(t *testing.T) {
		drive, _ := newDrive(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"value":[]}`)
		})

		_, err := drive.DriveID(t.Context(), "site-1")
		require.Error(t, err)
		assert.True(t, failure.Is(err, failure.KindNotFound))

		var fe *failure.Error
		require.True(t, errors.As(err, &fe))
		status, _ := fe.Status()
		assert.Equal(t, http.StatusNotFound, status)
	})
}

func TestListFiles_Paging(t *testing.T) {
	var srvURL string
	drive, srv := newDrive(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("$skiptoken") == "" {
			assert.Equal(t, "/v1.0/sites/site-1/drives/drive-a/root/children", r.URL.Path)
			assert.Equal(t, "2", r.URL.Query().Get("$top"))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"value": []map[string]any{
					{"id": "1", "name": "rome.json", "size": 120, "webUrl": "https://web/1", "@microsoft.graph.downloadUrl": "https://dl/1"},
					{"id": "2", "name": "paris.json", "size": 80},
				},
				"@odata.nextLink": srvURL + "/v1.0/sites/site-1/drives/drive-a/root/children?$skiptoken=abc",
			})
			return
		}
		_, _ = io.WriteString(w, `{"value":[{"id":"3","name":"oslo.json","size":10}]}`)
	})
	srvURL = srv.URL

	first, err := drive.ListFiles(t.Context(), "site-1", "drive-a", 2, "")
	require.NoError(t, err)
	require.Len(t, first.Files, 2)
	assert.Equal(t, graph.FileItem{ID: "1", Name: "rome.json", DownloadURL: "https://dl/1", WebURL: "https://web/1", Size: 120}, first.Files[0])
	require.NotEmpty(t, first.NextLink)

	second, err := drive.ListFiles(t.Context(), "site-1", "drive-a", 0, first.NextLink)
	require.NoError(t, err)
	assert.Equal(t, []graph.FileItem{{ID: "3", Name: "oslo.json", Size: 10}}, second.Files)
	assert.Empty(t, second.NextLink)
}

func TestListFiles_RejectsForeignNextLink(t *testing.T) {
	drive, _ := newDrive(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	_, err := drive.ListFiles(t.Context(), "site-1", "drive-a", 0, "https://attacker.example/v1.0/steal")
	assert.True(t, failure.Is(err, failure.KindInvalidInput))
}

func TestListFiles_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	drive, _ := newDrive(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"value":[]}`)
	})

	page, err := drive.ListFiles(t.Context(), "site-1", "drive-a", 5, "")
	require.NoError(t, err)
	assert.Empty(t, page.Files)
	assert.Equal(t, int32(3), calls.Load())
}

func TestListFiles_ExhaustedRetries(t *testing.T) {
	var calls atomic.Int32
	drive, _ := newDrive(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := drive.ListFiles(t.Context(), "site-1", "drive-a", 5, "")
	require.Error(t, err)

	var fe *failure.Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, failure.KindTransient, fe.Kind)
	assert.Equal(t, 3, fe.Attempts)
	assert.Equal(t, int32(3), calls.Load())
}

func TestListFiles_PermanentStatusNotRetried(t *testing.T) {
	var calls atomic.Int32
	drive, _ := newDrive(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := drive.ListFiles(t.Context(), "site-1", "drive-a", 5, "")
	assert.True(t, failure.Is(err, failure.KindPermanent))
	assert.Equal(t, int32(1), calls.Load())
}

func TestFolderChildren(t *testing.T) {
	drive, _ := newDrive(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1.0/sites/site-1/drives/drive-a/root:/plans/2026 trips:/children", r.URL.Path)
		_, _ = io.WriteString(w, `{"value":[{"id":"1","name":"a.json"},{"id":"2","name":"b.json"}]}`)
	})

	names, err := drive.FolderChildren(t.Context(), "site-1", "drive-a", "/plans/2026 trips/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.json", "b.json"}, names)
}

func TestUpload(t *testing.T) {
	t.Run("into folder", func(t *testing.T) {
		var calls atomic.Int32
		drive, _ := newDrive(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			assert.Equal(t, http.MethodPut, r.Method)
			assert.Equal(t, "/v1.0/sites/site-1/drives/drive-a/root:/plans/rome.json:/content", r.URL.Path)
			assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))

			body, _ := io.ReadAll(r.Body)
			assert.Equal(t, `{"destination":"Rome"}`, string(body))

			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"id":"f-1","name":"rome.json","size":22}`)
		})

		item, err := drive.Upload(t.Context(), "site-1", "drive-a", "plans", "rome.json", []byte(`{"destination":"Rome"}`))
		require.NoError(t, err)
		assert.Equal(t, graph.FileItem{ID: "f-1", Name: "rome.json", Size: 22}, item)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("not retried", func(t *testing.T) {
		var calls atomic.Int32
		drive, _ := newDrive(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		})

		_, err := drive.Upload(t.Context(), "site-1", "drive-a", "", "rome.json", []byte("x"))
		assert.True(t, failure.Is(err, failure.KindTransient))
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("too large", func(t *testing.T) {
		drive, _ := newDrive(t, func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("no request expected")
		})

		_, err := drive.Upload(t.Context(), "site-1", "drive-a", "", "big.bin", make([]byte, graph.MaxUploadBytes+1))
		assert.True(t, failure.Is(err, failure.KindInvalidInput))
	})

	t.Run("nested name", func(t *testing.T) {
		drive, _ := newDrive(t, func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("no request expected")
		})

		_, err := drive.Upload(t.Context(), "site-1", "drive-a", "", "a/b.json", []byte("x"))
		assert.True(t, failure.Is(err, failure.KindInvalidInput))
	})
}

func TestDelete(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		drive, _ := newDrive(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodDelete, r.Method)
			assert.Equal(t, "/v1.0/sites/site-1/drives/drive-a/root:/rome.json", r.URL.Path)
			w.WriteHeader(http.StatusNoContent)
		})

		require.NoError(t, drive.Delete(t.Context(), "site-1", "drive-a", "rome.json"))
	})

	t.Run("missing file", func(t *testing.T) {
		drive, _ := newDrive(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})

		err := drive.Delete(t.Context(), "site-1", "drive-a", "rome.json")
		assert.True(t, failure.Is(err, failure.KindNotFound))
	})
}

func TestTokenFailureIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	t.Cleanup(srv.Close)

	var exchanges atomic.Int32
	tokens := tokenSourceFunc(func() (*oauth2.Token, error) {
		exchanges.Add(1)
		return nil, failure.New(failure.KindAuth, "credential", "exchange rejected")
	})
	drive := graph.NewDrive(srv.URL, "contoso.sharepoint.com", tokens, graph.WithReadPolicy(fastPolicy))

	_, err := drive.DriveID(t.Context(), "site-1")
	assert.True(t, failure.Is(err, failure.KindAuth))
	assert.Equal(t, int32(1), exchanges.Load())
	assert.Zero(t, calls.Load())
}

type tokenSourceFunc func() (*oauth2.Token, error)

func (f tokenSourceFunc) Token() (*oauth2.Token, error) {
	return f()
}
