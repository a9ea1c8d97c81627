package console

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/faasdeck/internal/clock"
	"github.com/splax/faasdeck/internal/domain"
	"github.com/splax/faasdeck/internal/gatewaytest"
	"github.com/splax/faasdeck/internal/repository/file"
	"github.com/splax/faasdeck/internal/session"
	"github.com/splax/faasdeck/internal/source"
	"github.com/splax/faasdeck/internal/stream"
	"github.com/splax/faasdeck/pkg/api/client"
	"github.com/splax/faasdeck/pkg/config"
)

type fixture struct {
	gw      *gatewaytest.Server
	dir     string
	clock   *clock.FakeClock
	service *Service
}

func newFixture(t *testing.T, autoStream bool) *fixture {
	t.Helper()
	f := &fixture{
		gw:    gatewaytest.New(t),
		dir:   t.TempDir(),
		clock: clock.Fake(time.Now()),
	}
	f.service = f.newService(t, autoStream)
	return f
}

func (f *fixture) newService(t *testing.T, autoStream bool) *Service {
	t.Helper()
	repo, err := file.New(f.dir, "")
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	svc, err := New(Options{
		Config: config.ConsoleConfig{
			GatewayURL:        f.gw.URL,
			RequestTimeout:    5 * time.Second,
			InactivityTimeout: 30 * time.Minute,
			HistoryLimit:      50,
			StreamBackoff:     stream.DefaultBackoff,
			PollInterval:      time.Minute,
		},
		Repository: repo,
		Clock:      f.clock,
		Registerer: prometheus.NewRegistry(),
		AutoStream: autoStream,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc
}

func (f *fixture) login(t *testing.T) domain.Session {
	t.Helper()
	sess, err := f.service.Login(context.Background(), "", "admin", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return sess
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func validationField(t *testing.T, err error) string {
	t.Helper()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	return verr.Field
}

func TestLoginValidatesBeforeNetwork(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.service.Login(context.Background(), "", " ", "secret")
	if field := validationField(t, err); field != "username" {
		t.Fatalf("expected username field, got %q", field)
	}
	_, err = f.service.Login(context.Background(), "", "admin", "")
	if field := validationField(t, err); field != "password" {
		t.Fatalf("expected password field, got %q", field)
	}
	if n := f.gw.CountRequests("POST", "/auth/login"); n != 0 {
		t.Fatalf("expected no login request, got %d", n)
	}
}

func TestOperationsRequireSession(t *testing.T) {
	f := newFixture(t, false)
	if _, err := f.service.Functions(context.Background()); !errors.Is(err, session.ErrNotAuthenticated) {
		t.Fatalf("expected not authenticated, got %v", err)
	}
	if err := f.service.Watch(context.Background()); !errors.Is(err, session.ErrNotAuthenticated) {
		t.Fatalf("expected not authenticated from watch, got %v", err)
	}
}

func TestLoginStartsStreamAndLogoutClearsState(t *testing.T) {
	f := newFixture(t, true)
	sess := f.login(t)
	f.gw.WaitForStreams(t, 1)

	f.gw.Publish(domain.BuildEntry{ID: "b1", Status: domain.BuildRunning, Name: "hello"})
	waitFor(t, "streamed entry", func() bool {
		_, ok := f.service.History().Get("b1")
		return ok
	})
	f.gw.SetInspect(client.InspectResponse{Files: []client.InspectFile{{Path: "handler.py", Content: "x", Editable: true}}})
	if _, err := f.service.Inspect(context.Background(), BuildInput{Source: source.Git("https://example.com/repo.git", "", "")}); err != nil {
		t.Fatalf("inspect: %v", err)
	}

	if err := f.service.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if f.service.Stream().State() != stream.StateCancelled {
		t.Fatalf("stream still %s after logout", f.service.Stream().State())
	}
	if f.service.History().Len() != 0 {
		t.Fatalf("history survived logout: %+v", f.service.History().List())
	}
	if len(f.service.Files()) != 0 || f.service.Overlay().Key() != "" {
		t.Fatalf("overlay survived logout: %+v", f.service.Files())
	}
	if f.gw.TokenValid(sess.Token) {
		t.Fatal("token still valid on the gateway after logout")
	}
}

func TestResumeRestoresPersistedSession(t *testing.T) {
	f := newFixture(t, false)
	f.login(t)

	other := f.newService(t, false)
	sess, err := other.Resume(context.Background())
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if sess.Username != "admin" {
		t.Fatalf("unexpected session %+v", sess)
	}
	if _, err := other.Functions(context.Background()); err != nil {
		t.Fatalf("functions after resume: %v", err)
	}
}

func TestResumeAfterLoginToAnotherGateway(t *testing.T) {
	f := newFixture(t, false)
	second := gatewaytest.New(t)
	if _, err := f.service.Login(context.Background(), second.URL, "admin", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}

	other := f.newService(t, false)
	sess, err := other.Resume(context.Background())
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if sess.GatewayEndpoint != client.NormalizeBaseURL(second.URL) {
		t.Fatalf("resumed %q, want %q", sess.GatewayEndpoint, second.URL)
	}
	if _, err := other.Functions(context.Background()); err != nil {
		t.Fatalf("functions after resume: %v", err)
	}
	if n := second.CountRequests("GET", "/system/functions"); n != 1 {
		t.Fatalf("expected request on the second gateway, got %d", n)
	}
	if n := f.gw.CountRequests("GET", "/system/functions"); n != 0 {
		t.Fatalf("expected no request on the configured gateway, got %d", n)
	}
}

func TestSystemInfoAndConfig(t *testing.T) {
	f := newFixture(t, false)
	f.login(t)
	info, err := f.service.SystemInfo(context.Background())
	if err != nil || info.Provider.Name != "docker-faas" {
		t.Fatalf("system info: %+v %v", info, err)
	}
	cfg, err := f.service.SystemConfig(context.Background())
	if err != nil || cfg.MaxReplicas != 10 || cfg.AuthTokenTTLSeconds != 1800 {
		t.Fatalf("system config: %+v %v", cfg, err)
	}
}

func TestInspectThenSubmitSendsOverlayChanges(t *testing.T) {
	f := newFixture(t, false)
	f.login(t)
	f.gw.SetInspect(client.InspectResponse{
		Name:    "hello",
		Runtime: "python",
		Files: []client.InspectFile{
			{Path: "Dockerfile", Content: "FROM python:3.12", Editable: true},
			{Path: "handler.py", Content: "def handle(req): pass", Editable: true},
			{Path: "model.bin", Editable: false},
		},
	})
	spec := source.Git("https://example.com/hello.git", "main", "")

	if _, err := f.service.Inspect(context.Background(), BuildInput{Source: spec}); err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if got := len(f.service.Files()); got != 3 {
		t.Fatalf("expected 3 files, got %d", got)
	}
	if err := f.service.EditFile("handler.py", "def handle(req): return 'hi'"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if err := f.service.EditFile("model.bin", "nope"); err == nil {
		t.Fatal("expected read-only file to reject edits")
	}
	if _, err := f.service.AddFile("extra.txt"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := f.service.EditFile("extra.txt", "notes"); err != nil {
		t.Fatalf("edit new file: %v", err)
	}
	if err := f.service.RemoveFile("Dockerfile"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := f.service.AddFile("../escape"); err == nil {
		t.Fatal("expected invalid path to be rejected")
	}

	f.gw.SetBuildResult(client.BuildResponse{Image: "hello:latest", Deployed: true}, 0)
	entry, err := f.service.Submit(context.Background(), BuildInput{Name: "hello", Source: spec})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !strings.HasPrefix(entry.ID, LocalIDPrefix) || entry.Status != domain.BuildSuccess || entry.Image != "hello:latest" || !entry.Deployed {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if entry.GitURL != spec.Git.URL || entry.GitRef != "main" {
		t.Fatalf("source fields not recorded: %+v", entry)
	}

	inspected := f.gw.Inspected()
	if len(inspected) != 1 || len(inspected[0].Source.Files) != 0 {
		t.Fatalf("inspection must carry only the descriptor: %+v", inspected)
	}
	submitted := f.gw.Submitted()
	if len(submitted) != 1 {
		t.Fatalf("expected one submission, got %d", len(submitted))
	}
	want := []domain.FileChange{
		{Path: "Dockerfile", Remove: true},
		{Path: "extra.txt", Content: "notes"},
		{Path: "handler.py", Content: "def handle(req): return 'hi'"},
	}
	got := submitted[0].Source.Files
	if len(got) != len(want) {
		t.Fatalf("unexpected change-set %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("change %d: got %+v, want %+v", i, got[i], want[i])
		}
	}

	stored, ok := f.service.History().Get(entry.ID)
	if !ok || stored.Status != domain.BuildSuccess || len(stored.FileChanges) != 3 {
		t.Fatalf("history not updated: %+v", stored)
	}
}

func TestSubmitForOtherSourceSkipsOverlay(t *testing.T) {
	f := newFixture(t, false)
	f.login(t)
	f.gw.SetInspect(client.InspectResponse{Files: []client.InspectFile{{Path: "handler.py", Editable: true}}})
	if _, err := f.service.Inspect(context.Background(), BuildInput{Source: source.Git("https://example.com/a.git", "", "")}); err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if err := f.service.EditFile("handler.py", "changed"); err != nil {
		t.Fatalf("edit: %v", err)
	}

	if _, err := f.service.Submit(context.Background(), BuildInput{Name: "b", Source: source.Git("https://example.com/b.git", "", "")}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if files := f.gw.Submitted()[0].Source.Files; len(files) != 0 {
		t.Fatalf("overlay of another source was submitted: %+v", files)
	}
}

func TestSubmitFailureMarksEntryFailed(t *testing.T) {
	f := newFixture(t, false)
	f.login(t)
	f.gw.SetBuildResult(client.BuildResponse{}, 500)

	entry, err := f.service.Submit(context.Background(), BuildInput{Name: "hello", Source: source.Git("https://example.com/hello.git", "", "")})
	if err == nil {
		t.Fatal("expected submit error")
	}
	if entry.Status != domain.BuildFailed || entry.Error == "" || entry.FinishedAt.IsZero() {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if list := f.service.History().List(); len(list) != 1 || list[0].Status != domain.BuildFailed {
		t.Fatalf("unexpected history %+v", list)
	}
}

func TestSubmitNameFromManifest(t *testing.T) {
	f := newFixture(t, false)
	f.login(t)
	spec := source.Git("https://example.com/hello.git", "", "")

	_, err := f.service.Submit(context.Background(), BuildInput{Source: spec})
	if field := validationField(t, err); field != "name" {
		t.Fatalf("expected name field, got %q", field)
	}
	if f.service.History().Len() != 0 {
		t.Fatal("rejected submission must not create a history entry")
	}

	spec.Manifest = "name: from-manifest\nruntime: python\n"
	if _, err := f.service.Submit(context.Background(), BuildInput{Source: spec}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := f.gw.Submitted()[0].Name; got != "from-manifest" {
		t.Fatalf("expected manifest name, got %q", got)
	}
}

func TestRefreshAndClearHistory(t *testing.T) {
	f := newFixture(t, false)
	f.login(t)
	f.gw.SetBuilds(
		domain.BuildEntry{ID: "b3", Status: domain.BuildRunning},
		domain.BuildEntry{ID: "b2", Status: domain.BuildSuccess},
		domain.BuildEntry{ID: "b1", Status: domain.BuildFailed},
	)

	if err := f.service.RefreshHistory(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	list := f.service.History().List()
	if len(list) != 3 || list[0].ID != "b3" {
		t.Fatalf("unexpected history %+v", list)
	}
	if q := f.gw.Requests(); !strings.Contains(q[len(q)-1].Query, "limit=50") {
		t.Fatalf("expected limit in query, got %q", q[len(q)-1].Query)
	}

	entry, err := f.service.Build(context.Background(), "b2")
	if err != nil || entry.ID != "b2" {
		t.Fatalf("build: %+v %v", entry, err)
	}
	if _, err := f.service.Build(context.Background(), ""); err == nil {
		t.Fatal("expected empty id to be rejected")
	}

	if err := f.service.ClearHistory(context.Background()); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if f.service.History().Len() != 0 || len(f.gw.Builds()) != 0 {
		t.Fatal("history not cleared on both sides")
	}
}

func TestFunctionsLifecycle(t *testing.T) {
	f := newFixture(t, false)
	f.login(t)
	ctx := context.Background()

	err := f.service.DeployFunction(ctx, FunctionInput{
		Name:    "hello",
		Image:   "hello:latest",
		EnvVars: "{\n  // greeting\n  \"GREETING\": \"hi\",\n}",
		Labels:  `{"team": "core"}`,
	})
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	fns, err := f.service.Functions(ctx)
	if err != nil || len(fns) != 1 {
		t.Fatalf("functions: %+v %v", fns, err)
	}
	if fns[0].EnvVars["GREETING"] != "hi" || fns[0].Labels["team"] != "core" {
		t.Fatalf("env or labels lost: %+v", fns[0])
	}

	err = f.service.UpdateFunction(ctx, FunctionInput{Name: "hello", Image: "hello:v2", Labels: `["not", "an", "object"]`})
	if field := validationField(t, err); field != "labels" {
		t.Fatalf("expected labels field, got %q", field)
	}
	if err := f.service.UpdateFunction(ctx, FunctionInput{Name: "hello", Image: "hello:v2"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	if field := validationField(t, f.service.ScaleFunction(ctx, "hello", -1)); field != "replicas" {
		t.Fatalf("expected replicas field, got %q", field)
	}
	if err := f.service.ScaleFunction(ctx, "hello", 2); err != nil {
		t.Fatalf("scale: %v", err)
	}
	containers, err := f.service.Containers(ctx, "hello")
	if err != nil || len(containers) != 2 {
		t.Fatalf("containers: %+v %v", containers, err)
	}

	f.gw.SetLogs("hello", "a", "b", "c")
	logs, err := f.service.Logs(ctx, "hello", 0)
	if err != nil || logs != "a\nb\nc\n" {
		t.Fatalf("logs: %q %v", logs, err)
	}

	if err := f.service.DeleteFunction(ctx, "hello"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := f.service.DeleteFunction(ctx, "hello"); !client.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeploymentValidation(t *testing.T) {
	cases := map[string]struct {
		in    FunctionInput
		field string
	}{
		"missing name":  {in: FunctionInput{Image: "x"}, field: "name"},
		"bad name":      {in: FunctionInput{Name: "-x", Image: "x"}, field: "name"},
		"missing image": {in: FunctionInput{Name: "x"}, field: "image"},
		"env not map":   {in: FunctionInput{Name: "x", Image: "x", EnvVars: `{"A": 1}`}, field: "envVars"},
		"bad secret":    {in: FunctionInput{Name: "x", Image: "x", Secrets: []string{"../etc"}}, field: "name"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := tc.in.Deployment()
			if field := validationField(t, err); field != tc.field {
				t.Fatalf("expected field %q, got %q", tc.field, field)
			}
		})
	}
}

func TestSecretsLifecycle(t *testing.T) {
	f := newFixture(t, false)
	f.login(t)
	ctx := context.Background()

	if field := validationField(t, f.service.CreateSecret(ctx, ".hidden", "v")); field != "name" {
		t.Fatalf("expected name field, got %q", field)
	}
	if field := validationField(t, f.service.CreateSecret(ctx, "db", "")); field != "value" {
		t.Fatalf("expected value field, got %q", field)
	}
	if err := f.service.CreateSecret(ctx, "db", "s3cret"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.service.UpdateSecret(ctx, "db", "rotated"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if v, _ := f.gw.SecretValue("db"); v != "rotated" {
		t.Fatalf("unexpected secret value %q", v)
	}
	secrets, err := f.service.Secrets(ctx)
	if err != nil || len(secrets) != 1 || secrets[0].Name != "db" {
		t.Fatalf("secrets: %+v %v", secrets, err)
	}
	if got, err := f.service.Secret(ctx, "db"); err != nil || got.Name != "db" {
		t.Fatalf("secret: %+v %v", got, err)
	}
	if err := f.service.DeleteSecret(ctx, "db"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.service.Secret(ctx, "db"); !client.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestInvokeValidatesBeforeNetwork(t *testing.T) {
	f := newFixture(t, false)
	f.login(t)
	ctx := context.Background()

	cases := map[string]struct {
		in    InvokeInput
		field string
	}{
		"missing name":     {in: InvokeInput{}, field: "name"},
		"bad name":         {in: InvokeInput{Name: "-dash"}, field: "name"},
		"bad method":       {in: InvokeInput{Name: "echo", Method: "TRACE"}, field: "method"},
		"bad headers":      {in: InvokeInput{Name: "echo", Headers: `{"X-Trace": `}, field: "headers"},
		"non-string value": {in: InvokeInput{Name: "echo", Headers: `{"X-Count": 3}`}, field: "headers"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.service.Invoke(ctx, tc.in)
			if field := validationField(t, err); field != tc.field {
				t.Fatalf("expected %s field, got %q", tc.field, field)
			}
		})
	}
	if n := f.gw.CountRequests("POST", "/function/echo"); n != 0 {
		t.Fatalf("expected no invocation, got %d", n)
	}
}

func TestInvokeFunction(t *testing.T) {
	f := newFixture(t, false)
	f.login(t)
	ctx := context.Background()
	if err := f.service.DeployFunction(ctx, FunctionInput{Name: "echo", Image: "echo:1"}); err != nil {
		t.Fatalf("deploy: %v", err)
	}

	res, err := f.service.Invoke(ctx, InvokeInput{
		Name:    "echo",
		Method:  "patch",
		Headers: `{"X-Trace": "abc", /* operator note */ }`,
		Body:    `{"hello": "world"}`,
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.Status != 200 || string(res.Body) != `{"hello": "world"}` || res.Headers.Get("X-Echo-Method") != "PATCH" {
		t.Fatalf("unexpected result %+v", res)
	}
	calls := f.gw.Invocations()
	if len(calls) != 1 || calls[0].Header.Get("X-Trace") != "abc" {
		t.Fatalf("unexpected invocations %+v", calls)
	}

	async, err := f.service.Invoke(ctx, InvokeInput{Name: "echo", Async: true})
	if err != nil || async.Status != 202 || async.CallID == "" {
		t.Fatalf("async invoke: %+v %v", async, err)
	}

	missing, err := f.service.Invoke(ctx, InvokeInput{Name: "missing"})
	if err != nil || missing.Status != 404 {
		t.Fatalf("missing function: %+v %v", missing, err)
	}
	if _, ok := f.service.Sessions().Current(); !ok {
		t.Fatal("function errors must not end the session")
	}
}

func TestHealthWithoutSession(t *testing.T) {
	f := newFixture(t, false)
	health, err := f.service.Health(context.Background())
	if err != nil || !health.Healthy() {
		t.Fatalf("health: %+v %v", health, err)
	}
	f.gw.FailCheck("database", "locked")
	health, err = f.service.Health(context.Background())
	if err != nil || health.Healthy() || health.Checks["database"] != "locked" {
		t.Fatalf("health: %+v %v", health, err)
	}
}

func TestWatchEndsWhenSessionIsRevoked(t *testing.T) {
	f := newFixture(t, false)
	f.login(t)
	f.gw.SetBuilds(domain.BuildEntry{ID: "b1", Status: domain.BuildRunning})

	done := make(chan error, 1)
	go func() { done <- f.service.Watch(context.Background()) }()
	f.gw.WaitForStreams(t, 1)
	waitFor(t, "initial poll", func() bool {
		_, ok := f.service.History().Get("b1")
		return ok
	})

	f.gw.RevokeAll()
	if _, err := f.service.Functions(context.Background()); !errors.Is(err, client.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, session.ErrRevoked) {
			t.Fatalf("expected revoked, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not end after revocation")
	}
	if f.service.Stream().State() != stream.StateCancelled {
		t.Fatalf("stream still %s", f.service.Stream().State())
	}
}

func TestWatchReturnsNilOnCancel(t *testing.T) {
	f := newFixture(t, false)
	f.login(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.service.Watch(ctx) }()
	f.gw.WaitForStreams(t, 1)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not end after cancel")
	}
	if _, ok := f.service.Sessions().Current(); !ok {
		t.Fatal("cancelling watch must not end the session")
	}
}

func TestWatchCancelResumesAutoStream(t *testing.T) {
	f := newFixture(t, true)
	f.login(t)
	f.gw.WaitForStreams(t, 1)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.service.Watch(ctx) }()
	// Inactivity timer plus the first poll interval.
	f.clock.WaitForTimers(2)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not end after cancel")
	}
	if state := f.service.Stream().State(); state == stream.StateCancelled {
		t.Fatal("stream not resumed after watch ended")
	}
	waitFor(t, "entry on resumed stream", func() bool {
		f.gw.Publish(domain.BuildEntry{ID: "after-watch", Status: domain.BuildRunning, Name: "hello"})
		_, ok := f.service.History().Get("after-watch")
		return ok
	})
}

func TestStreamEntryAdoptsLocalBuild(t *testing.T) {
	f := newFixture(t, true)
	f.login(t)
	f.gw.WaitForStreams(t, 1)

	spec := source.Git("https://example.com/hello.git", "", "")
	if _, err := f.service.Submit(context.Background(), BuildInput{Name: "hello", Source: spec}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	f.gw.Publish(domain.BuildEntry{ID: "g1", Status: domain.BuildSuccess, Name: "hello", StartedAt: f.clock.Now().Add(time.Second)})
	waitFor(t, "gateway entry", func() bool {
		_, ok := f.service.History().Get("g1")
		return ok
	})
	if list := f.service.History().List(); len(list) != 1 {
		t.Fatalf("local entry not folded into the gateway entry: %+v", list)
	}

	f.gw.Publish(domain.BuildEntry{ID: "g2", Status: domain.BuildRunning, Name: "other", StartedAt: f.clock.Now()})
	waitFor(t, "unrelated entry", func() bool { return f.service.History().Len() == 2 })

	if _, err := f.service.Submit(context.Background(), BuildInput{Name: "hello", Source: spec}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	f.gw.Publish(domain.BuildEntry{ID: "g3", Status: domain.BuildRunning, Name: "hello", StartedAt: f.clock.Now().Add(-time.Hour)})
	waitFor(t, "stale entry", func() bool {
		_, ok := f.service.History().Get("g3")
		return ok
	})
	local := 0
	for _, e := range f.service.History().List() {
		if strings.HasPrefix(e.ID, LocalIDPrefix) {
			local++
		}
	}
	if n := f.service.History().Len(); n != 4 || local != 1 {
		t.Fatalf("entry outside the window must not adopt: len=%d local=%d", n, local)
	}
}
