package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"bookvault/internal/app"
	"bookvault/internal/util"
	"bookvault/pkg/auth"
	"bookvault/pkg/domain"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	MaxUploadBytes int64
}

// Server exposes the HTTP endpoints of the library backend.
type Server struct {
	app            *app.App
	mux            *http.ServeMux
	maxUploadBytes int64
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 50 * 1024 * 1024
	}
	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxUploadBytes,
	}
	s.routes()
	return s
}

// Router returns the configured handler with the middleware stack applied.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("bookvault", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/auth/token", s.handleIssueToken)
	s.mux.HandleFunc("/users/", s.handleUsers)
	s.mux.Handle("/collections/", s.withUser(s.handleCollections))
	s.mux.Handle("/books/", s.withUser(s.handleBooks))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		user, err := s.app.Authenticate(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	req, ok := decodeCredentials(w, r)
	if !ok {
		return
	}
	token, err := s.app.IssueToken(req.Login, req.Password)
	if err != nil {
		if errors.Is(err, app.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"access_token": token,
		"token_type":   "bearer",
	})
}

// /users/ (register), /users/{login}, /users/{login}/collections/
func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.TrimPrefix(r.URL.Path, "/users/")
	if trimmed == "" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.handleRegister(w, r)
		return
	}
	s.withUser(func(w http.ResponseWriter, r *http.Request, user domain.User) {
		parts := strings.Split(strings.TrimSuffix(trimmed, "/"), "/")
		login := parts[0]
		switch {
		case len(parts) == 1:
			s.handleUserByLogin(w, r, user, login)
		case len(parts) == 2 && parts[1] == "collections":
			s.handleUserCollections(w, r, user, login)
		default:
			notFound(w, "not found")
		}
	}).ServeHTTP(w, r)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(w, r)
	if !ok {
		return
	}
	user, err := s.app.RegisterUser(req.Login, req.Password)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleUserByLogin(w http.ResponseWriter, r *http.Request, user domain.User, login string) {
	switch r.Method {
	case http.MethodGet:
		record, err := s.app.GetUser(user.Login, login)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, record)
	case http.MethodDelete:
		if err := s.app.DeleteUser(user.Login, login); err != nil {
			s.writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

type collectionCreateRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleUserCollections(w http.ResponseWriter, r *http.Request, user domain.User, login string) {
	switch r.Method {
	case http.MethodPost:
		var req collectionCreateRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			writeError(w, http.StatusBadRequest, "name is required")
			return
		}
		collection, err := s.app.CreateCollection(user.Login, login, req.Name)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, collection)
	case http.MethodGet:
		collections, err := s.app.ListCollections(user.Login, login)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, collections)
	default:
		methodNotAllowed(w)
	}
}

// /collections/{uuid} and /collections/{uuid}/books/
func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request, user domain.User) {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/collections/"), "/")
	parts := strings.Split(trimmed, "/")
	id, err := uuid.Parse(parts[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid collection id")
		return
	}
	switch {
	case len(parts) == 1:
		s.handleCollectionByID(w, r, user, id)
	case len(parts) == 2 && parts[1] == "books":
		s.handleCollectionBooks(w, r, user, id)
	default:
		notFound(w, "not found")
	}
}

func (s *Server) handleCollectionByID(w http.ResponseWriter, r *http.Request, user domain.User, id uuid.UUID) {
	switch r.Method {
	case http.MethodGet:
		collection, err := s.app.GetCollection(user.Login, id)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, collection)
	case http.MethodDelete:
		if err := s.app.DeleteCollection(user.Login, id); err != nil {
			s.writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

type bookRequest struct {
	Title       string `json:"title"`
	Author      string `json:"author"`
	Description string `json:"description"`
}

func (s *Server) handleCollectionBooks(w http.ResponseWriter, r *http.Request, user domain.User, id uuid.UUID) {
	switch r.Method {
	case http.MethodPost:
		var req bookRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Title == "" || req.Author == "" || req.Description == "" {
			writeError(w, http.StatusBadRequest, "title, author, and description are required")
			return
		}
		book, err := s.app.CreateBook(user.Login, id, req.Title, req.Author, req.Description)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, book)
	case http.MethodGet:
		books, err := s.app.ListBooks(user.Login, id)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, books)
	default:
		methodNotAllowed(w)
	}
}

// /books/{uuid} and /books/{uuid}/file
func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request, user domain.User) {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/books/"), "/")
	parts := strings.Split(trimmed, "/")
	id, err := uuid.Parse(parts[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid book id")
		return
	}
	switch {
	case len(parts) == 1:
		s.handleBookByID(w, r, user, id)
	case len(parts) == 2 && parts[1] == "file":
		s.handleBookFile(w, r, user, id)
	default:
		notFound(w, "not found")
	}
}

func (s *Server) handleBookByID(w http.ResponseWriter, r *http.Request, user domain.User, id uuid.UUID) {
	switch r.Method {
	case http.MethodGet:
		book, err := s.app.GetBook(user.Login, id)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, book)
	case http.MethodPut:
		var req bookRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		book, err := s.app.UpdateBook(user.Login, id, req.Title, req.Author, req.Description)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, book)
	case http.MethodDelete:
		if err := s.app.DeleteBook(r.Context(), user.Login, id); err != nil {
			s.writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleBookFile(w http.ResponseWriter, r *http.Request, user domain.User, id uuid.UUID) {
	switch r.Method {
	case http.MethodPut:
		s.handleUploadFile(w, r, user, id)
	case http.MethodGet:
		s.handleDownloadFile(w, r, user, id)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request, user domain.User, id uuid.UUID) {
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	book, err := s.app.UploadFile(r.Context(), user.Login, id, header.Filename, file, header.Size)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request, user domain.User, id uuid.UUID) {
	rc, fileName, err := s.app.DownloadFile(r.Context(), user.Login, id)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+fileName+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		util.LoggerFromContext(r.Context()).Warn("file stream interrupted", "book", id, "err", err)
	}
}

// writeAppError maps orchestration errors onto the HTTP error taxonomy.
func (s *Server) writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case app.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrLoginTaken):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (credentialsRequest, bool) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return req, false
	}
	if req.Login == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "login and password are required")
		return req, false
	}
	return req, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeFor(status),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCodeFor(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusConflict:
		return "CONFLICT"
	default:
		if status >= http.StatusInternalServerError {
			return "INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
