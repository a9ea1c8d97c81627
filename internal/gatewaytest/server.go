// Package gatewaytest runs an in-process docker-faas gateway double that
// speaks the real wire format. It backs the client, session, stream and
// console tests.
package gatewaytest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/splax/faasdeck/internal/domain"
	"github.com/splax/faasdeck/pkg/api/client"
	"github.com/splax/faasdeck/pkg/jwt"
)

// Request records one request received by the gateway double.
type Request struct {
	Method    string
	Path      string
	Query     string
	Token     string
	RequestID string
}

// Invocation records one call routed to a function.
type Invocation struct {
	Name   string
	Method string
	Header http.Header
	Body   string
	Async  bool
}

// Server is a fake gateway. Zero values of the exported knobs mean gateway defaults.
type Server struct {
	*httptest.Server

	Username string
	Password string
	TokenTTL time.Duration
	// OmitExpiry drops expiresAt from login responses so clients fall back to the JWT exp claim.
	OmitExpiry bool

	mu          sync.Mutex
	secret      string
	tokens      map[string]time.Time
	functions   []domain.Function
	secrets     map[string]string
	logs        map[string][]string
	builds      []domain.BuildEntry
	inspect     client.InspectResponse
	buildResult client.BuildResponse
	buildErr    int
	inspected   []client.BuildRequest
	submitted   []client.BuildRequest
	requests    []Request
	invocations []Invocation
	failing     map[string]string
	nextCall    int
	streams     map[int]chan string
	nextStream  int
	streamOpens int
	streamFail  int
}

// New starts a gateway double accepting admin/secret.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		Username: "admin",
		Password: "secret",
		TokenTTL: 30 * time.Minute,
		secret:   "gatewaytest-signing-key",
		tokens:   make(map[string]time.Time),
		secrets:  make(map[string]string),
		logs:     make(map[string][]string),
		streams:  make(map[int]chan string),
		failing:  make(map[string]string),
	}
	s.Server = httptest.NewServer(s.router())
	t.Cleanup(func() {
		s.DropStreams()
		s.Server.Close()
	})
	return s
}

func (s *Server) router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", s.requireAuth(s.handleLogout)).Methods(http.MethodPost)
	r.HandleFunc("/system/info", s.requireAuth(s.handleInfo)).Methods(http.MethodGet)
	r.HandleFunc("/system/config", s.requireAuth(s.handleConfig)).Methods(http.MethodGet)
	r.HandleFunc("/system/functions", s.requireAuth(s.handleListFunctions)).Methods(http.MethodGet)
	r.HandleFunc("/system/functions", s.requireAuth(s.handleDeployFunction)).Methods(http.MethodPost, http.MethodPut)
	r.HandleFunc("/system/functions", s.requireAuth(s.handleDeleteFunction)).Methods(http.MethodDelete)
	r.HandleFunc("/system/scale-function/{name}", s.requireAuth(s.handleScale)).Methods(http.MethodPost)
	r.HandleFunc("/system/function/{name}/containers", s.requireAuth(s.handleContainers)).Methods(http.MethodGet)
	r.HandleFunc("/system/logs", s.requireAuth(s.handleLogs)).Methods(http.MethodGet)
	r.HandleFunc("/system/secrets", s.requireAuth(s.handleListSecrets)).Methods(http.MethodGet)
	r.HandleFunc("/system/secrets", s.requireAuth(s.handleStoreSecret)).Methods(http.MethodPost, http.MethodPut)
	r.HandleFunc("/system/secrets", s.requireAuth(s.handleDeleteSecret)).Methods(http.MethodDelete)
	r.HandleFunc("/system/secrets/{name}", s.requireAuth(s.handleGetSecret)).Methods(http.MethodGet)
	r.HandleFunc("/system/builds", s.requireAuth(s.handleSubmitBuild)).Methods(http.MethodPost)
	r.HandleFunc("/system/builds", s.requireAuth(s.handleListBuilds)).Methods(http.MethodGet)
	r.HandleFunc("/system/builds", s.requireAuth(s.handleClearBuilds)).Methods(http.MethodDelete)
	r.HandleFunc("/system/builds/inspect", s.requireAuth(s.handleInspect)).Methods(http.MethodPost)
	r.HandleFunc("/system/builds/stream", s.requireAuth(s.handleStream)).Methods(http.MethodGet)
	r.HandleFunc("/system/builds/{id}", s.requireAuth(s.handleGetBuild)).Methods(http.MethodGet)
	invokeMethods := []string{http.MethodPost, http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodPatch}
	r.HandleFunc("/function/{name}", s.handleInvoke(false)).Methods(invokeMethods...)
	r.HandleFunc("/async-function/{name}", s.handleInvoke(true)).Methods(invokeMethods...)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	return s.record(r)
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method:    r.Method,
			Path:      r.URL.Path,
			Query:     r.URL.RawQuery,
			Token:     bearer(r),
			RequestID: r.Header.Get("X-Request-ID"),
		})
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearer(r)
		s.mu.Lock()
		expiresAt, ok := s.tokens[token]
		s.mu.Unlock()
		if token == "" || !ok || time.Now().After(expiresAt) {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Username) != s.Username || req.Password != s.Password {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	token, expiresAt, err := jwt.GenerateToken(req.Username, s.secret, s.TokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	s.mu.Lock()
	s.tokens[token] = expiresAt
	s.mu.Unlock()
	resp := client.LoginResponse{Token: token}
	if !s.OmitExpiry {
		resp.ExpiresAt = expiresAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.Revoke(bearer(r))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	var info client.SystemInfo
	info.Provider.Name = "docker-faas"
	info.Version.Release = "test"
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, client.SystemConfig{
		AuthEnabled:         true,
		DefaultReplicas:     1,
		MaxReplicas:         10,
		AuthTokenTTLSeconds: int(s.TokenTTL / time.Second),
		BuildHistoryLimit:   50,
		BuildOutputLimit:    200000,
	})
}

func (s *Server) handleListFunctions(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := append([]domain.Function{}, s.functions...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeployFunction(w http.ResponseWriter, r *http.Request) {
	var req domain.FunctionDeployment
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fn := domain.Function{Name: req.Service, Image: req.Image, EnvVars: req.EnvVars, Labels: req.Labels, Secrets: req.Secrets, Replicas: 1}
	for i := range s.functions {
		if s.functions[i].Name == req.Service {
			if r.Method == http.MethodPost {
				writeError(w, http.StatusConflict, "function already exists")
				return
			}
			s.functions[i] = fn
			w.WriteHeader(http.StatusAccepted)
			return
		}
	}
	if r.Method == http.MethodPut {
		writeError(w, http.StatusNotFound, "function not found")
		return
	}
	s.functions = append(s.functions, fn)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleDeleteFunction(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("functionName")
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.functions {
		if s.functions[i].Name == name {
			s.functions = append(s.functions[:i], s.functions[i+1:]...)
			w.WriteHeader(http.StatusAccepted)
			return
		}
	}
	writeError(w, http.StatusNotFound, "function not found")
}

func (s *Server) handleScale(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var req struct {
		ServiceName string `json:"serviceName"`
		Replicas    int    `json:"replicas"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Replicas < 0 {
		writeError(w, http.StatusBadRequest, "invalid scale request")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.functions {
		if s.functions[i].Name == name {
			s.functions[i].Replicas = req.Replicas
			w.WriteHeader(http.StatusAccepted)
			return
		}
	}
	writeError(w, http.StatusNotFound, "function not found")
}

func (s *Server) handleContainers(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, fn := range s.functions {
		if fn.Name != name {
			continue
		}
		out := make([]domain.Container, 0, fn.Replicas)
		for i := 0; i < fn.Replicas; i++ {
			out = append(out, domain.Container{
				ID:     fmt.Sprintf("%s-%d", name, i),
				Name:   fmt.Sprintf("%s.%d", name, i+1),
				Status: "running",
			})
		}
		writeJSON(w, http.StatusOK, out)
		return
	}
	writeError(w, http.StatusNotFound, "function not found")
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	tail, _ := strconv.Atoi(r.URL.Query().Get("tail"))
	if tail <= 0 {
		tail = 100
	}
	s.mu.Lock()
	lines, ok := s.logs[name]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "function not found")
		return
	}
	if len(lines) > tail {
		lines = lines[len(lines)-tail:]
	}
	w.Header().Set("Content-Type", "text/plain")
	for _, line := range lines {
		_, _ = fmt.Fprintln(w, line)
	}
}

func (s *Server) handleListSecrets(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := make([]domain.Secret, 0, len(s.secrets))
	for name := range s.secrets {
		out = append(out, domain.Secret{Name: name})
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStoreSecret(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" || req.Value == "" {
		writeError(w, http.StatusBadRequest, "Name and value are required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.secrets[req.Name]
	if r.Method == http.MethodPut && !exists {
		writeError(w, http.StatusNotFound, "secret not found")
		return
	}
	s.secrets[req.Name] = req.Value
	writeJSON(w, http.StatusCreated, map[string]string{"name": req.Name})
}

func (s *Server) handleDeleteSecret(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.secrets[name]; !ok {
		writeError(w, http.StatusNotFound, "secret not found")
		return
	}
	delete(s.secrets, name)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetSecret(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	s.mu.Lock()
	_, ok := s.secrets[name]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "secret not found")
		return
	}
	writeJSON(w, http.StatusOK, domain.Secret{Name: name})
}

// handleInvoke echoes the call back: the body is returned as is and the
// method in X-Echo-Method. Unknown functions answer 404.
func (s *Server) handleInvoke(async bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		s.mu.Lock()
		found := false
		for _, fn := range s.functions {
			if fn.Name == name {
				found = true
				break
			}
		}
		if found {
			s.invocations = append(s.invocations, Invocation{Name: name, Method: r.Method, Header: r.Header.Clone(), Body: string(body), Async: async})
		}
		s.nextCall++
		callID := fmt.Sprintf("call-%d", s.nextCall)
		s.mu.Unlock()
		if !found {
			writeError(w, http.StatusNotFound, "function not found")
			return
		}
		if async {
			w.Header().Set("X-Call-Id", callID)
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "callId": callID})
			return
		}
		w.Header().Set("X-Echo-Method", r.Method)
		if ct := r.Header.Get("Content-Type"); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"database": "ok", "docker": "ok", "network": "ok"}
	status, code := "ok", http.StatusOK
	s.mu.Lock()
	for check, reason := range s.failing {
		checks[check] = reason
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	s.mu.Unlock()
	writeJSON(w, code, map[string]any{"status": status, "checks": checks})
}

func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	var req client.BuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.mu.Lock()
	s.inspected = append(s.inspected, req)
	resp := s.inspect
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSubmitBuild(w http.ResponseWriter, r *http.Request) {
	var req client.BuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.mu.Lock()
	s.submitted = append(s.submitted, req)
	status := s.buildErr
	resp := s.buildResult
	s.mu.Unlock()
	if status != 0 {
		writeError(w, status, "build failed")
		return
	}
	if resp.Name == "" {
		resp.Name = req.Name
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListBuilds(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := append([]domain.BuildEntry{}, s.builds...)
	s.mu.Unlock()
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit > 0 && limit < len(out) {
			out = out[:limit]
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetBuild(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.builds {
		if entry.ID == id {
			writeJSON(w, http.StatusOK, entry)
			return
		}
	}
	writeError(w, http.StatusNotFound, "build not found")
}

func (s *Server) handleClearBuilds(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.builds = nil
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.streamOpens++
	if s.streamFail > 0 {
		s.streamFail--
		s.mu.Unlock()
		writeError(w, http.StatusServiceUnavailable, "stream unavailable")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.mu.Unlock()
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	id := s.nextStream
	s.nextStream++
	frames := make(chan string, 64)
	s.streams[id] = frames
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.streams, id)
		s.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return
			}
			_, _ = fmt.Fprint(w, frame)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func bearer(r *http.Request) string {
	parts := strings.Fields(r.Header.Get("Authorization"))
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
