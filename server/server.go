// Package server exposes ingestion and question answering over HTTP and a chat
// WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xhad/medicus/internal/models"
	"github.com/xhad/medicus/internal/types"
	"github.com/xhad/medicus/pkg/ingest"
	"github.com/xhad/medicus/pkg/query"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the chat widget is served from other origins
	},
}

// Message is the chat WebSocket frame in both directions.
type Message struct {
	Type      string      `json:"type"`
	ListingID string      `json:"listingId,omitempty"`
	Content   string      `json:"content"`
	Data      interface{} `json:"data,omitempty"`
}

type Config struct {
	MaxUploadMB int
	// UploadsPath is the URL prefix the local blob store's files are served under.
	// Static serving is off when UploadsDir is empty.
	UploadsPath string
	UploadsDir  string
	Logger      *slog.Logger
}

type Dependencies struct {
	Ingest    *ingest.Coordinator
	Query     *query.Service
	Documents types.DocumentStore
	Listings  types.ListingStore
	// Health reports the extraction service; nil means always healthy.
	Health func(ctx context.Context) error
}

type Server struct {
	config Config
	deps   Dependencies
	logger *slog.Logger
	mux    *http.ServeMux
}

func New(deps Dependencies, config Config) (*Server, error) {
	if deps.Ingest == nil || deps.Query == nil || deps.Documents == nil || deps.Listings == nil {
		return nil, errors.New("server: ingest, query, documents and listings are required")
	}
	if config.MaxUploadMB <= 0 {
		config.MaxUploadMB = 32
	}
	if config.UploadsPath == "" {
		config.UploadsPath = "/uploads/"
	}
	if !strings.HasSuffix(config.UploadsPath, "/") {
		config.UploadsPath += "/"
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{config: config, deps: deps, logger: logger, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/create-listing", s.handleCreateListing)
	s.mux.HandleFunc("POST /api/process-pdfs", s.handleProcessPDFs)
	s.mux.HandleFunc("GET /api/documents", s.handleListDocuments)
	s.mux.HandleFunc("GET /api/documents/{id}", s.handleGetDocument)
	s.mux.HandleFunc("POST /api/query", s.handleQuery)
	s.mux.HandleFunc("GET /ws", s.handleWebSocket)
	s.mux.HandleFunc("GET /health", s.handleHealth)

	if s.config.UploadsDir != "" {
		s.mux.Handle("GET "+s.config.UploadsPath, http.StripPrefix(s.config.UploadsPath, http.FileServer(http.Dir(s.config.UploadsDir))))
	}
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	s.logger.Info("Server stopped")
	return nil
}

type createListingRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateListing(w http.ResponseWriter, r *http.Request) {
	var req createListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	listing, err := s.deps.Listings.CreateListing(r.Context(), strings.TrimSpace(req.Name))
	if err != nil {
		s.logger.Error("Failed to create listing", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create listing")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"listingId": listing.ID,
		"listing":   listing,
	})
}

// failureResponse carries the orphaned binary, if any, in StorageURL.
type failureResponse struct {
	Filename   string                 `json:"filename"`
	Kind       string                 `json:"kind"`
	Error      string                 `json:"error"`
	Document   *models.DocumentRecord `json:"document,omitempty"`
	StorageURL string                 `json:"storage_url,omitempty"`
}

func (s *Server) handleProcessPDFs(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, int64(s.config.MaxUploadMB)<<20)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d MB", s.config.MaxUploadMB))
			return
		}
		s.writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	listingID := models.ListingID(strings.TrimSpace(r.FormValue("listingId")))
	files, err := readFiles(r.MultipartForm.File["files"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.deps.Ingest.Ingest(r.Context(), listingID, files)
	if err != nil {
		if errors.Is(err, ingest.ErrInvalidRequest) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("Ingestion failed", "listing_id", listingID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to process files")
		return
	}

	failures := make([]failureResponse, 0, len(result.Failures))
	for _, f := range result.Failures {
		failures = append(failures, failureResponse{
			Filename:   f.Filename,
			Kind:       f.Kind.String(),
			Error:      f.Err.Error(),
			Document:   f.Record,
			StorageURL: f.StorageURL,
		})
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"processed": result.Processed,
		"documents": result.Documents,
		"failures":  failures,
	})
}

func readFiles(headers []*multipart.FileHeader) ([]models.FilePayload, error) {
	files := make([]models.FilePayload, 0, len(headers))
	for _, h := range headers {
		f, err := h.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", h.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", h.Filename, err)
		}
		files = append(files, models.FilePayload{Filename: h.Filename, Data: data})
	}
	return files, nil
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	listingID := models.ListingID(strings.TrimSpace(r.URL.Query().Get("listingId")))
	if listingID == "" {
		s.writeError(w, http.StatusBadRequest, "listingId is required")
		return
	}

	docs, err := s.deps.Documents.ListByListing(r.Context(), listingID)
	if err != nil {
		s.logger.Error("Failed to list documents", "listing_id", listingID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}
	if docs == nil {
		docs = []models.DocumentRecord{}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"listingId": listingID,
		"documents": docs,
		"count":     len(docs),
	})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	doc, found, err := s.deps.Documents.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("Failed to get document", "document_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get document")
		return
	}
	if !found {
		s.writeError(w, http.StatusNotFound, "document not found")
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

type queryRequest struct {
	ListingID string `json:"listingId"`
	Question  string `json:"question"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	answer, err := s.deps.Query.Ask(r.Context(), models.ListingID(strings.TrimSpace(req.ListingID)), req.Question)
	if err != nil {
		if errors.Is(err, query.ErrInvalidRequest) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("Query failed", "listing_id", req.ListingID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to answer question")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"answer":    answer.Text,
		"source":    answer.Source,
		"category":  answer.Category.String(),
		"sentences": answer.Sentences,
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("WebSocket read ended", "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			s.sendMessage(conn, Message{Type: "error", Content: "invalid message"})
			continue
		}

		s.handleMessage(ctx, conn, msg)
	}
}

func (s *Server) handleMessage(ctx context.Context, conn *websocket.Conn, msg Message) {
	if msg.Type != "query" {
		s.sendMessage(conn, Message{Type: "error", Content: fmt.Sprintf("unsupported message type %q", msg.Type)})
		return
	}

	answer, err := s.deps.Query.Ask(ctx, models.ListingID(strings.TrimSpace(msg.ListingID)), msg.Content)
	if err != nil {
		content := "failed to answer question"
		if errors.Is(err, query.ErrInvalidRequest) {
			content = err.Error()
		} else {
			s.logger.Error("Query failed", "listing_id", msg.ListingID, "error", err)
		}
		s.sendMessage(conn, Message{Type: "error", ListingID: msg.ListingID, Content: content})
		return
	}

	s.sendMessage(conn, Message{
		Type:      "response",
		ListingID: msg.ListingID,
		Content:   answer.Text,
		Data: map[string]interface{}{
			"source":    answer.Source,
			"category":  answer.Category.String(),
			"sentences": answer.Sentences,
		},
	})
}

func (s *Server) sendMessage(conn *websocket.Conn, msg Message) {
	if err := conn.WriteJSON(msg); err != nil {
		s.logger.Warn("Error sending message", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		if err := s.deps.Health(r.Context()); err != nil {
			s.logger.Warn("Extraction service unhealthy", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("extraction service unavailable"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
