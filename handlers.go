package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/wayfarer/wayfarer/internal/audit"
	"github.com/wayfarer/wayfarer/internal/graph"
	"github.com/wayfarer/wayfarer/internal/itinerary"
	"github.com/wayfarer/wayfarer/internal/jwt"
)

// HTTPStatuser provides HTTP status information for errors
type HTTPStatuser interface {
	Status() (int, string)
}

type Planner interface {
	RequestPlan(ctx context.Context, destination string) (itinerary.Document, error)
}

type Accounts interface {
	Register(ctx context.Context, username, password string) error
	Login(ctx context.Context, username, password string) (string, error)
}

type DriveService interface {
	SiteDetails(ctx context.Context, siteName string) (json.RawMessage, error)
	DriveID(ctx context.Context, siteID string) (string, error)
	ListFiles(ctx context.Context, siteID, driveID string, pageSize int, next string) (graph.FilePage, error)
	FolderChildren(ctx context.Context, siteID, driveID, folder string) ([]string, error)
	Upload(ctx context.Context, siteID, driveID, folder, fileName string, body []byte) (graph.FileItem, error)
	Delete(ctx context.Context, siteID, driveID, fileName string) error
}

type ListService interface {
	ListLists(ctx context.Context, siteID string) ([]graph.ListSummary, error)
	CreateList(ctx context.Context, siteID, name string) (graph.ListSummary, error)
	DeleteList(ctx context.Context, siteID, listID string) error
	ListItems(ctx context.Context, siteID, listID string) ([]graph.TravelListItem, error)
	CreateItem(ctx context.Context, siteID, listID string, item graph.TravelListItem) (graph.TravelListItem, error)
	DeleteItem(ctx context.Context, siteID, listID, itemID string) error
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func handlePostRegister(accounts Accounts) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		var creds credentials
		if err := decodeJSON(r, &creds); err != nil {
			writeError(w, r, err)
			return
		}

		if err := accounts.Register(r.Context(), creds.Username, creds.Password); err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]string{"username": strings.TrimSpace(creds.Username)})
	})
}

func handlePostLogin(accounts Accounts) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		var creds credentials
		if err := decodeJSON(r, &creds); err != nil {
			writeError(w, r, err)
			return
		}

		token, err := accounts.Login(r.Context(), creds.Username, creds.Password)
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"token": token})
	})
}

func handleGetPlan(planner Planner) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		// claims are guaranteed by the middleware
		claims := jwt.UserClaimsFromContext(r.Context())
		if claims == nil {
			requestError(w, http.StatusUnauthorized)
			return
		}

		doc, err := planner.RequestPlan(r.Context(), r.PathValue("destination"))
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, doc)
	})
}

func handleGetSite(drive DriveService) http.Handler {
	return graphHandler("site details", func(w http.ResponseWriter, r *http.Request) error {
		site, err := drive.SiteDetails(r.Context(), r.PathValue("siteName"))
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, site)
		return nil
	})
}

func handleGetDrive(drive DriveService) http.Handler {
	return graphHandler("drive id", func(w http.ResponseWriter, r *http.Request) error {
		id, err := drive.DriveID(r.Context(), r.PathValue("siteId"))
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, map[string]string{"driveId": id})
		return nil
	})
}

func handleListFiles(drive DriveService) http.Handler {
	return graphHandler("list files", func(w http.ResponseWriter, r *http.Request) error {
		pageSize := 0
		if raw := r.URL.Query().Get("pageSize"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				return badRequest("pageSize must be a positive integer")
			}
			pageSize = n
		}

		page, err := drive.ListFiles(r.Context(), r.PathValue("siteId"), r.PathValue("driveId"), pageSize, r.URL.Query().Get("next"))
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, page)
		return nil
	})
}

func handleFolderChildren(drive DriveService) http.Handler {
	return graphHandler("folder children", func(w http.ResponseWriter, r *http.Request) error {
		names, err := drive.FolderChildren(r.Context(), r.PathValue("siteId"), r.PathValue("driveId"), r.PathValue("folder"))
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, map[string][]string{"files": names})
		return nil
	})
}

func handlePutFile(drive DriveService) http.Handler {
	return graphHandler("upload", func(w http.ResponseWriter, r *http.Request) error {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			var maxBytesErr *http.MaxBytesError
			if errors.As(err, &maxBytesErr) {
				return statusError{http.StatusRequestEntityTooLarge, "file exceeds the upload limit"}
			}
			return badRequest("could not read request body")
		}

		item, err := drive.Upload(r.Context(), r.PathValue("siteId"), r.PathValue("driveId"), r.URL.Query().Get("folder"), r.PathValue("fileName"), body)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusCreated, item)
		return nil
	})
}

func handleDeleteFile(drive DriveService) http.Handler {
	return graphHandler("delete", func(w http.ResponseWriter, r *http.Request) error {
		if err := drive.Delete(r.Context(), r.PathValue("siteId"), r.PathValue("driveId"), r.PathValue("fileName")); err != nil {
			return err
		}
		w.WriteHeader(http.StatusNoContent)
		return nil
	})
}

func handleGetLists(lists ListService) http.Handler {
	return graphHandler("list lists", func(w http.ResponseWriter, r *http.Request) error {
		summaries, err := lists.ListLists(r.Context(), r.PathValue("siteId"))
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, summaries)
		return nil
	})
}

func handlePostList(lists ListService) http.Handler {
	return graphHandler("create list", func(w http.ResponseWriter, r *http.Request) error {
		var req struct {
			Name string `json:"name"`
		}
		if err := decodeJSON(r, &req); err != nil {
			return err
		}

		created, err := lists.CreateList(r.Context(), r.PathValue("siteId"), req.Name)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusCreated, created)
		return nil
	})
}

func handleDeleteList(lists ListService) http.Handler {
	return graphHandler("delete list", func(w http.ResponseWriter, r *http.Request) error {
		if err := lists.DeleteList(r.Context(), r.PathValue("siteId"), r.PathValue("listId")); err != nil {
			return err
		}
		w.WriteHeader(http.StatusNoContent)
		return nil
	})
}

func handleGetListItems(lists ListService) http.Handler {
	return graphHandler("list items", func(w http.ResponseWriter, r *http.Request) error {
		items, err := lists.ListItems(r.Context(), r.PathValue("siteId"), r.PathValue("listId"))
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, items)
		return nil
	})
}

func handlePostListItem(lists ListService) http.Handler {
	return graphHandler("create item", func(w http.ResponseWriter, r *http.Request) error {
		var item graph.TravelListItem
		if err := decodeJSON(r, &item); err != nil {
			return err
		}
		item.ID = ""

		created, err := lists.CreateItem(r.Context(), r.PathValue("siteId"), r.PathValue("listId"), item)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusCreated, created)
		return nil
	})
}

func handleDeleteListItem(lists ListService) http.Handler {
	return graphHandler("delete item", func(w http.ResponseWriter, r *http.Request) error {
		if err := lists.DeleteItem(r.Context(), r.PathValue("siteId"), r.PathValue("listId"), r.PathValue("itemId")); err != nil {
			return err
		}
		w.WriteHeader(http.StatusNoContent)
		return nil
	})
}

// graphHandler records the Graph operation and its identifiers on the audit
// entry and writes any returned error as JSON.
func graphHandler(operation string, fn func(w http.ResponseWriter, r *http.Request) error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		entry := audit.Log(r.Context())
		entry.GraphOperation = operation
		entry.SiteID = r.PathValue("siteId")
		entry.DriveID = r.PathValue("driveId")
		entry.ListID = r.PathValue("listId")

		if err := fn(w, r); err != nil {
			writeError(w, r, err)
		}
	})
}

func handleHealthCheck() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

func maxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, limit)
	}
}

// corsMiddleware allows the configured origins. Requests from other origins
// are served without CORS headers, which browsers then reject. Preflight
// requests are answered directly.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(allowedOrigins) == 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allowed := origin != "" && (slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin))

			if allowed {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, "+audit.RequestIDHeader)
				h.Set("Access-Control-Expose-Headers", audit.RequestIDHeader)
				h.Set("Access-Control-Max-Age", "600")
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ErrorResponse represents a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// statusError is a request error with a fixed status.
type statusError struct {
	code    int
	message string
}

func (e statusError) Error() string {
	return e.message
}

func (e statusError) Status() (int, string) {
	return e.code, e.message
}

func badRequest(message string) error {
	return statusError{code: http.StatusBadRequest, message: message}
}

func decodeJSON(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return statusError{code: http.StatusRequestEntityTooLarge, message: "request body too large"}
		}
		return badRequest(fmt.Sprintf("invalid JSON body: %v", err))
	}
	return nil
}

// writeError records err on the audit entry and writes it as a JSON error
// response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	audit.Log(r.Context()).Error = err.Error()

	status, message := errorStatus(err)
	if status >= http.StatusInternalServerError {
		log.Ctx(r.Context()).Warn().Err(err).Int("status", status).Msg("request failed")
	}

	writeJSONError(w, status, message)
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Info().Msgf("failed to write JSON response: %v", err)
	}
}

// writeJSONError writes a JSON error response with the given status code and message.
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{Error: message})
}

// errorStatus extracts HTTP status code and message from an error.
// Returns (StatusInternalServerError, StatusText) for errors that don't implement HTTPStatuser.
func errorStatus(err error) (int, string) {
	var statuser HTTPStatuser
	if errors.As(err, &statuser) {
		return statuser.Status()
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}

func requestError(w http.ResponseWriter, statusCode int) {
	writeJSONError(w, statusCode, http.StatusText(statusCode))
}

// drainRequestBody drains the request body by reading and discarding the contents.
// This is useful to ensure the request body is fully consumed, which is important
// for connection reuse in HTTP/1 clients.
func drainRequestBody(r *http.Request) {
	if r.Body != nil {
		// 5 MiB max: after this we'll assume the client is broken or malicious
		// and close the connection
		_, _ = io.CopyN(io.Discard, r.Body, 5*1024*1024)
	}
}
