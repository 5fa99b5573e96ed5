// Package testserver is an in-process stand-in for the session backend. It
// implements the auth endpoints the client consumes, hands out sequential
// access tokens (T1, T2, ...) and keeps call counters for assertions.
package testserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

// RefreshCookieName is the cookie carrying the refresh credential
const RefreshCookieName = "refresh_token"

// User is an account known to the server
type User struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Password    string `json:"-"`
}

// Server is the stub backend. Exported fields may be changed between calls;
// they are read under the server lock.
type Server struct {
	*httptest.Server
	Router *mux.Router

	mu       sync.Mutex
	users    map[string]*User // by email
	access   map[string]string
	refresh  map[string]string
	codes    map[string]string // google auth code -> email
	tokenSeq int
	counts   map[string]int
	bodies   map[string][]string

	// RejectRefresh makes /auth/refresh answer 401
	RejectRefresh bool
	// RefreshDelay is slept inside /auth/refresh before answering
	RefreshDelay time.Duration
	// FailLogout makes /auth/logout answer 500
	FailLogout bool
	// FlatIdentity answers /auth/me with user fields at top level
	FlatIdentity bool
	// AlwaysUnauthorized makes every bearer-protected route answer 401
	AlwaysUnauthorized bool
	// GoogleEmail is the account /login/google signs in
	GoogleEmail string
	// NextToken, when set, mints access tokens instead of T1, T2, ...
	NextToken func(seq int) string
}

// New starts a stub backend with one account: a@b.com / Secret1!
func New() *Server {
	s := &Server{
		users:       make(map[string]*User),
		access:      make(map[string]string),
		refresh:     make(map[string]string),
		codes:       make(map[string]string),
		counts:      make(map[string]int),
		bodies:      make(map[string][]string),
		GoogleEmail: "a@b.com",
	}
	s.AddUser(&User{ID: 1, Username: "alice", Email: "a@b.com", DisplayName: "Alice", Password: "Secret1!"})

	r := mux.NewRouter()
	r.HandleFunc("/auth/login", s.count("login", s.handleLogin)).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh", s.count("refresh", s.handleRefresh)).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", s.count("logout", s.handleLogout)).Methods(http.MethodPost)
	r.HandleFunc("/auth/me", s.count("me", s.requireAuth(s.handleMe))).Methods(http.MethodGet)
	r.HandleFunc("/auth/me", s.count("update_me", s.requireAuth(s.handleUpdateMe))).Methods(http.MethodPut)
	r.HandleFunc("/auth/me", s.count("delete_me", s.requireAuth(s.handleDeleteMe))).Methods(http.MethodDelete)
	r.HandleFunc("/auth/google/callback", s.count("google_callback", s.handleGoogleCallback)).Methods(http.MethodPost)
	r.HandleFunc("/login/google", s.count("google_login", s.handleGoogleLogin)).Methods(http.MethodPost)
	r.PathPrefix("/api/").HandlerFunc(s.count("api", s.requireAuth(s.handleAPI)))
	s.Router = r
	s.Server = httptest.NewServer(r)
	return s
}

// AddUser registers an account
func (s *Server) AddUser(u *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.Email] = u
}

// AddGoogleCode makes code exchangeable for the account with email
func (s *Server) AddGoogleCode(code, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code] = email
}

// Count returns how many times the named endpoint was hit. Names: login,
// refresh, logout, me, update_me, delete_me, google_callback, google_login, api.
func (s *Server) Count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[name]
}

// TotalRequests returns the number of requests served on any route
func (s *Server) TotalRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.counts {
		total += n
	}
	return total
}

// Bodies returns the request bodies received by the named endpoint
func (s *Server) Bodies(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.bodies[name]...)
}

// IssueAccess mints an access token for email without a login call
func (s *Server) IssueAccess(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mintLocked(email)
}

// RevokeAccess makes token answer 401 from now on
func (s *Server) RevokeAccess(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.access, token)
}

// RevokeAllAccess invalidates every access token; refresh cookies stay valid
func (s *Server) RevokeAllAccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = make(map[string]string)
}

// ValidAccess reports whether token is currently accepted
func (s *Server) ValidAccess(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.access[token]
	return ok
}

func (s *Server) mintLocked(email string) string {
	s.tokenSeq++
	token := fmt.Sprintf("T%d", s.tokenSeq)
	if s.NextToken != nil {
		token = s.NextToken(s.tokenSeq)
	}
	s.access[token] = email
	return token
}

func (s *Server) count(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(strings.NewReader(string(body)))
		s.mu.Lock()
		s.counts[name]++
		s.bodies[name] = append(s.bodies[name], string(body))
		s.mu.Unlock()
		next(w, r)
	}
}

func (s *Server) requireAuth(next func(http.ResponseWriter, *http.Request, *User)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		email, valid := s.access[token]
		user := s.users[email]
		reject := s.AlwaysUnauthorized
		s.mu.Unlock()
		if !ok || !valid || user == nil || reject {
			errorResponse(w, "unauthorized", "Authentication required", http.StatusUnauthorized)
			return
		}
		next(w, r, user)
	}
}

// issue answers with a fresh access token, rotating the refresh cookie
func (s *Server) issue(w http.ResponseWriter, user *User, includeUser bool) {
	s.mu.Lock()
	token := s.mintLocked(user.Email)
	refreshToken := fmt.Sprintf("R%d", s.tokenSeq)
	s.refresh[refreshToken] = user.Email
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    refreshToken,
		Path:     "/auth",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	resp := map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   900,
	}
	if includeUser {
		resp["user"] = user
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		errorResponse(w, "invalid_request", "Invalid request body", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	user := s.users[req.Email]
	s.mu.Unlock()
	if user == nil || user.Password != req.Password {
		errorResponse(w, "invalid_grant", "Invalid credentials", http.StatusUnauthorized)
		return
	}
	s.issue(w, user, true)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	delay, reject := s.RefreshDelay, s.RejectRefresh
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	cookie, err := r.Cookie(RefreshCookieName)
	if err != nil || reject {
		errorResponse(w, "invalid_grant", "Invalid refresh token", http.StatusUnauthorized)
		return
	}
	s.mu.Lock()
	email, ok := s.refresh[cookie.Value]
	delete(s.refresh, cookie.Value)
	user := s.users[email]
	s.mu.Unlock()
	if !ok || user == nil {
		errorResponse(w, "invalid_grant", "Invalid refresh token", http.StatusUnauthorized)
		return
	}
	s.issue(w, user, false)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	fail := s.FailLogout
	s.mu.Unlock()
	if fail {
		errorResponse(w, "server_error", "Logout failed", http.StatusInternalServerError)
		return
	}
	if cookie, err := r.Cookie(RefreshCookieName); err == nil {
		s.mu.Lock()
		delete(s.refresh, cookie.Value)
		s.mu.Unlock()
	}
	http.SetCookie(w, &http.Cookie{Name: RefreshCookieName, Path: "/auth", MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user *User) {
	s.mu.Lock()
	flat := s.FlatIdentity
	s.mu.Unlock()
	if flat {
		writeJSON(w, http.StatusOK, user)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request, user *User) {
	var req struct {
		Username    string `json:"username"`
		Email       string `json:"email"`
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, "invalid_request", "Invalid request body", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	if req.Username != "" {
		user.Username = req.Username
	}
	if req.DisplayName != "" {
		user.DisplayName = req.DisplayName
	}
	updated := *user
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"user": updated})
}

func (s *Server) handleDeleteMe(w http.ResponseWriter, r *http.Request, user *User) {
	s.mu.Lock()
	delete(s.users, user.Email)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code        string `json:"code"`
		RedirectURI string `json:"redirect_uri"`
		State       string `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		errorResponse(w, "invalid_request", "Invalid request body", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	email, ok := s.codes[req.Code]
	delete(s.codes, req.Code)
	user := s.users[email]
	s.mu.Unlock()
	if !ok || user == nil {
		errorResponse(w, "invalid_grant", "Invalid authorization code", http.StatusBadRequest)
		return
	}
	s.issue(w, user, false)
}

func (s *Server) handleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDToken string `json:"id_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IDToken == "" {
		errorResponse(w, "invalid_request", "id_token required", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	user := s.users[s.GoogleEmail]
	s.mu.Unlock()
	if user == nil {
		errorResponse(w, "invalid_grant", "Unknown account", http.StatusUnauthorized)
		return
	}
	s.issue(w, user, false)
}

// handleAPI echoes the request for application calls under /api/
func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request, user *User) {
	body, _ := io.ReadAll(r.Body)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"path":   r.URL.Path,
		"method": r.Method,
		"user":   user.ID,
		"body":   string(body),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorResponse sends an OAuth 2.0 style error body
func errorResponse(w http.ResponseWriter, code, description string, status int) {
	writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}
