package gatewaytest

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/splax/faasdeck/internal/domain"
	"github.com/splax/faasdeck/pkg/api/client"
)

// Revoke invalidates token so later calls receive 401.
func (s *Server) Revoke(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}

// RevokeAll invalidates every issued token.
func (s *Server) RevokeAll() {
	s.mu.Lock()
	s.tokens = make(map[string]time.Time)
	s.mu.Unlock()
}

// TokenValid reports whether token is currently accepted.
func (s *Server) TokenValid(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiresAt, ok := s.tokens[token]
	return ok && time.Now().Before(expiresAt)
}

// SetInspect sets the response returned by /system/builds/inspect.
func (s *Server) SetInspect(resp client.InspectResponse) {
	s.mu.Lock()
	s.inspect = resp
	s.mu.Unlock()
}

// SetBuildResult sets the response of /system/builds POST. A non-zero status makes it fail.
func (s *Server) SetBuildResult(resp client.BuildResponse, status int) {
	s.mu.Lock()
	s.buildResult = resp
	s.buildErr = status
	s.mu.Unlock()
}

// SetBuilds replaces the gateway build history.
func (s *Server) SetBuilds(entries ...domain.BuildEntry) {
	s.mu.Lock()
	s.builds = append([]domain.BuildEntry(nil), entries...)
	s.mu.Unlock()
}

// Builds returns the gateway build history.
func (s *Server) Builds() []domain.BuildEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.BuildEntry(nil), s.builds...)
}

// Functions returns the deployed functions.
func (s *Server) Functions() []domain.Function {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Function(nil), s.functions...)
}

// SetLogs sets the log lines served for a function.
func (s *Server) SetLogs(name string, lines ...string) {
	s.mu.Lock()
	s.logs[name] = append([]string(nil), lines...)
	s.mu.Unlock()
}

// SecretValue returns a stored secret value.
func (s *Server) SecretValue(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.secrets[name]
	return v, ok
}

// FailCheck makes /healthz report check as failing with reason.
func (s *Server) FailCheck(check, reason string) {
	s.mu.Lock()
	s.failing[check] = reason
	s.mu.Unlock()
}

// Invocations returns every function call routed to a deployed function.
func (s *Server) Invocations() []Invocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Invocation(nil), s.invocations...)
}

// Inspected returns every inspection request received.
func (s *Server) Inspected() []client.BuildRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]client.BuildRequest(nil), s.inspected...)
}

// Submitted returns every build submission received.
func (s *Server) Submitted() []client.BuildRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]client.BuildRequest(nil), s.submitted...)
}

// Requests returns the request log.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// CountRequests returns how many requests hit method and path.
func (s *Server) CountRequests(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

// FailStreams makes the next n stream opens fail with 503.
func (s *Server) FailStreams(n int) {
	s.mu.Lock()
	s.streamFail = n
	s.mu.Unlock()
}

// StreamOpens returns how many stream requests were received.
func (s *Server) StreamOpens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamOpens
}

// ActiveStreams returns the number of connected stream subscribers.
func (s *Server) ActiveStreams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

// WaitForStreams blocks until n subscribers are connected.
func (s *Server) WaitForStreams(t testing.TB, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for s.ActiveStreams() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d stream subscribers, have %d", n, s.ActiveStreams())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Publish sends entry to every stream subscriber as a data record.
func (s *Server) Publish(entry domain.BuildEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		panic(fmt.Sprintf("gatewaytest: marshal build entry: %v", err))
	}
	s.PublishRaw(fmt.Sprintf("data: %s\n\n", data))
}

// PublishRaw writes frame verbatim to every stream subscriber.
func (s *Server) PublishRaw(frame string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.streams {
		ch <- frame
	}
}

// DropStreams closes every connected stream.
func (s *Server) DropStreams() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.streams {
		close(ch)
		delete(s.streams, id)
	}
}
