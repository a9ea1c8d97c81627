package console

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/splax/faasdeck/internal/domain"
	"github.com/splax/faasdeck/internal/overlay"
	"github.com/splax/faasdeck/internal/session"
	"github.com/splax/faasdeck/internal/source"
	"github.com/splax/faasdeck/pkg/api/client"
)

// LocalIDPrefix marks history entries created before the gateway answered.
const LocalIDPrefix = "local-"

// adoptWindow bounds how far apart the start times of a local entry and a
// gateway entry may be for the gateway entry to take its place.
const adoptWindow = 2 * time.Minute

// BuildInput describes a build to inspect or submit.
type BuildInput struct {
	Name   string
	Deploy *bool
	Source domain.SourceSpec
}

// RefreshHistory replaces the local history with the gateway listing.
func (s *Service) RefreshHistory(ctx context.Context) error {
	var entries []domain.BuildEntry
	err := s.authorized(ctx, func(ctx context.Context, api API, token string) error {
		var err error
		entries, err = api.ListBuilds(ctx, token, client.ListBuildsOptions{Limit: s.history.Limit()})
		return err
	})
	if err != nil {
		return err
	}
	s.history.ReplaceAll(entries)
	return nil
}

// ClearHistory deletes the gateway history, then the local one.
func (s *Service) ClearHistory(ctx context.Context) error {
	err := s.authorized(ctx, func(ctx context.Context, api API, token string) error {
		return api.ClearBuilds(ctx, token)
	})
	if err != nil {
		return err
	}
	s.history.Clear()
	return nil
}

// Build fetches one build including its output and mirrors it locally.
func (s *Service) Build(ctx context.Context, id string) (domain.BuildEntry, error) {
	if strings.TrimSpace(id) == "" {
		return domain.BuildEntry{}, domain.Invalid("id", "build id is required")
	}
	var entry domain.BuildEntry
	err := s.authorized(ctx, func(ctx context.Context, api API, token string) error {
		var err error
		entry, err = api.GetBuild(ctx, token, id)
		return err
	})
	if err != nil {
		return domain.BuildEntry{}, err
	}
	s.history.Upsert(entry)
	return entry, nil
}

// Inspect resolves the source on the gateway and seeds the overlay with the
// reported files. Local edits survive when the source key is unchanged.
func (s *Service) Inspect(ctx context.Context, in BuildInput) (client.InspectResponse, error) {
	if err := source.Validate(in.Source); err != nil {
		return client.InspectResponse{}, err
	}
	req := client.BuildRequest{
		Name:   strings.TrimSpace(in.Name),
		Source: client.BuildSourcePayload{SourceSpec: in.Source},
	}
	var resp client.InspectResponse
	err := s.authorized(ctx, func(ctx context.Context, api API, token string) error {
		var err error
		resp, err = api.InspectBuild(ctx, token, req)
		return err
	})
	if err != nil {
		return client.InspectResponse{}, err
	}

	snapshot := make([]domain.SourceFile, 0, len(resp.Files))
	for _, f := range resp.Files {
		snapshot = append(snapshot, domain.SourceFile{Path: f.Path, Content: f.Content, Editable: f.Editable})
	}
	key := overlay.SourceKey(in.Source)
	s.overlay.Seed(key, in.Source, snapshot)
	s.logger.Debug("source inspected", "key", key, "files", len(snapshot))
	return resp, nil
}

// AddFile selects path in the overlay, creating it when missing.
func (s *Service) AddFile(path string) (domain.SourceFile, error) {
	f, err := s.overlay.AddOrSelect(path)
	if errors.Is(err, overlay.ErrInvalidPath) {
		return domain.SourceFile{}, domain.Invalid("path", "%v", err)
	}
	return f, err
}

// EditFile replaces the content of an overlay file.
func (s *Service) EditFile(path, content string) error {
	if !s.overlay.Edit(path, content) {
		return domain.Invalid("path", "%s is not an editable file", path)
	}
	return nil
}

// RemoveFile drops a file from the overlay.
func (s *Service) RemoveFile(path string) error {
	if !s.overlay.Remove(path) {
		return domain.Invalid("path", "%s is not in the working set", path)
	}
	return nil
}

// Files returns the overlay working set.
func (s *Service) Files() []domain.SourceFile {
	return s.overlay.Files()
}

// Submit builds in.Source on the gateway together with the overlay
// change-set. A running entry is inserted before the request and updated
// with the outcome.
func (s *Service) Submit(ctx context.Context, in BuildInput) (domain.BuildEntry, error) {
	name := strings.TrimSpace(in.Name)
	if err := source.Validate(in.Source); err != nil {
		return domain.BuildEntry{}, err
	}
	if name == "" && in.Source.Manifest != "" {
		if m, err := source.ParseManifest([]byte(in.Source.Manifest)); err == nil {
			name = strings.TrimSpace(m.Name)
		}
	}
	if name == "" {
		return domain.BuildEntry{}, domain.Invalid("name", "name is required (request or docker-faas.yaml)")
	}
	if err := source.ValidateName(name); err != nil {
		return domain.BuildEntry{}, err
	}
	if _, ok := s.sessions.Current(); !ok {
		return domain.BuildEntry{}, session.ErrNotAuthenticated
	}

	var changes []domain.FileChange
	if s.overlay.Key() == overlay.SourceKey(in.Source) {
		_, changes = s.overlay.Payload()
	}

	started := s.clock.Now()
	entry := pendingEntry(name, in.Source, changes, started)
	s.history.Insert(entry)

	req := client.BuildRequest{
		Name:   name,
		Deploy: in.Deploy,
		Source: client.BuildSourcePayload{SourceSpec: in.Source, Files: changes},
	}
	var resp client.BuildResponse
	err := s.authorized(ctx, func(ctx context.Context, api API, token string) error {
		var err error
		resp, err = api.SubmitBuild(ctx, token, req)
		return err
	})

	finished := s.clock.Now()
	duration := finished.Sub(started).Milliseconds()
	patch := domain.BuildPatch{FinishedAt: &finished, DurationMs: &duration}
	if err != nil {
		status := domain.BuildFailed
		msg := err.Error()
		patch.Status, patch.Error = &status, &msg
	} else {
		status := domain.BuildSuccess
		patch.Status = &status
		patch.Image = &resp.Image
		patch.Deployed = &resp.Deployed
		patch.Updated = &resp.Updated
	}
	s.history.UpdateInPlace(entry.ID, patch)
	updated, ok := s.history.Get(entry.ID)
	if !ok {
		updated = patch.Apply(entry)
	}
	if err != nil {
		return updated, fmt.Errorf("submit build: %w", err)
	}
	s.logger.Info("build submitted", "name", name, "image", resp.Image, "deployed", resp.Deployed)
	return updated, nil
}

func pendingEntry(name string, spec domain.SourceSpec, changes []domain.FileChange, started time.Time) domain.BuildEntry {
	entry := domain.BuildEntry{
		ID:          LocalIDPrefix + uuid.NewString(),
		Status:      domain.BuildRunning,
		Name:        name,
		SourceType:  spec.Type,
		Runtime:     spec.Runtime,
		StartedAt:   started,
		Manifest:    spec.Manifest,
		FileChanges: changes,
	}
	if spec.Git != nil {
		entry.GitURL = spec.Git.URL
		entry.GitRef = spec.Git.Ref
		entry.SourcePath = spec.Git.Path
	}
	if spec.Zip != nil {
		entry.ZipName = spec.Zip.Filename
	}
	return entry
}

// Watch keeps the history current until ctx ends or the session ends: the
// build stream pushes updates and a periodic poll reconciles the full list.
// It returns the session end cause, or nil when ctx was cancelled. With
// auto streaming on, the stream is resumed on the session once ctx ends.
func (s *Service) Watch(ctx context.Context) error {
	sessCtx := s.sessions.Context()
	if sessCtx.Err() != nil {
		return session.ErrNotAuthenticated
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(sessCtx, cancel)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		s.stream.Stop()
		s.stream.Start(gctx)
		<-gctx.Done()
		s.stream.Stop()
		return nil
	})
	g.Go(func() error {
		return s.poll(gctx)
	})
	err := g.Wait()

	if sessCtx.Err() != nil {
		return context.Cause(sessCtx)
	}
	if s.autoStream {
		s.stream.Start(sessCtx)
	}
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (s *Service) poll(ctx context.Context) error {
	interval := s.cfg.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	for {
		if err := s.RefreshHistory(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, client.ErrUnauthorized) || errors.Is(err, session.ErrNotAuthenticated) || errors.Is(err, session.ErrSessionExpired) {
				return err
			}
			s.logger.Warn("build history refresh failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-s.clock.After(interval):
		}
	}
}

// pendingSink feeds stream entries to the history. The first gateway entry
// for a build submitted from here takes over the local placeholder.
type pendingSink struct {
	s *Service
}

func (p pendingSink) Upsert(entry domain.BuildEntry) bool {
	h := p.s.history
	if entry.Name == "" || strings.HasPrefix(entry.ID, LocalIDPrefix) {
		return h.Upsert(entry)
	}
	if _, ok := h.Get(entry.ID); ok {
		return h.Upsert(entry)
	}
	local, ok := closestLocal(h.List(), entry)
	if !ok || !h.ReplaceID(local.ID, entry) {
		return h.Upsert(entry)
	}
	p.s.logger.Debug("local build adopted", "local", local.ID, "id", entry.ID)
	return true
}

func closestLocal(entries []domain.BuildEntry, entry domain.BuildEntry) (domain.BuildEntry, bool) {
	var (
		best  domain.BuildEntry
		found bool
		gap   time.Duration
	)
	for _, e := range entries {
		if !strings.HasPrefix(e.ID, LocalIDPrefix) || e.Name != entry.Name {
			continue
		}
		d := time.Duration(0)
		if !e.StartedAt.IsZero() && !entry.StartedAt.IsZero() {
			d = e.StartedAt.Sub(entry.StartedAt)
			if d < 0 {
				d = -d
			}
			if d > adoptWindow {
				continue
			}
		}
		if !found || d < gap {
			best, gap, found = e, d, true
		}
	}
	return best, found
}
