package domain

import "time"

// Build statuses reported by the gateway.
const (
	BuildPending = "pending"
	BuildRunning = "running"
	BuildSuccess = "success"
	BuildFailed  = "failed"
)

// BuildEntry captures a single build attempt as reported by the gateway.
type BuildEntry struct {
	ID          string       `json:"id"`
	Status      string       `json:"status"`
	Name        string       `json:"name,omitempty"`
	SourceType  string       `json:"sourceType,omitempty"`
	Runtime     string       `json:"runtime,omitempty"`
	GitURL      string       `json:"gitUrl,omitempty"`
	GitRef      string       `json:"gitRef,omitempty"`
	SourcePath  string       `json:"sourcePath,omitempty"`
	ZipName     string       `json:"zipName,omitempty"`
	Image       string       `json:"image,omitempty"`
	Deployed    bool         `json:"deployed,omitempty"`
	Updated     bool         `json:"updated,omitempty"`
	StartedAt   time.Time    `json:"startedAt"`
	FinishedAt  time.Time    `json:"finishedAt,omitempty"`
	DurationMs  int64        `json:"durationMs,omitempty"`
	Output      string       `json:"output,omitempty"`
	Error       string       `json:"error,omitempty"`
	Manifest    string       `json:"manifest,omitempty"`
	FileChanges []FileChange `json:"fileChanges,omitempty"`
	Truncated   bool         `json:"truncated,omitempty"`
}

// Terminal reports whether the build has finished, successfully or not.
func (b BuildEntry) Terminal() bool {
	return IsTerminalStatus(b.Status)
}

// IsTerminalStatus reports whether status is success or failed.
func IsTerminalStatus(status string) bool {
	return status == BuildSuccess || status == BuildFailed
}

// BuildPatch captures mutable fields for a build entry. Nil fields are left untouched.
type BuildPatch struct {
	Status      *string
	Name        *string
	SourceType  *string
	Runtime     *string
	GitURL      *string
	GitRef      *string
	SourcePath  *string
	ZipName     *string
	Image       *string
	Deployed    *bool
	Updated     *bool
	FinishedAt  *time.Time
	DurationMs  *int64
	Output      *string
	Error       *string
	Manifest    *string
	FileChanges []FileChange
	Truncated   *bool
}

// Apply merges the patch into entry and returns the result.
func (p BuildPatch) Apply(entry BuildEntry) BuildEntry {
	if p.Status != nil {
		entry.Status = *p.Status
	}
	if p.Name != nil {
		entry.Name = *p.Name
	}
	if p.SourceType != nil {
		entry.SourceType = *p.SourceType
	}
	if p.Runtime != nil {
		entry.Runtime = *p.Runtime
	}
	if p.GitURL != nil {
		entry.GitURL = *p.GitURL
	}
	if p.GitRef != nil {
		entry.GitRef = *p.GitRef
	}
	if p.SourcePath != nil {
		entry.SourcePath = *p.SourcePath
	}
	if p.ZipName != nil {
		entry.ZipName = *p.ZipName
	}
	if p.Image != nil {
		entry.Image = *p.Image
	}
	if p.Deployed != nil {
		entry.Deployed = *p.Deployed
	}
	if p.Updated != nil {
		entry.Updated = *p.Updated
	}
	if p.FinishedAt != nil {
		entry.FinishedAt = *p.FinishedAt
	}
	if p.DurationMs != nil {
		entry.DurationMs = *p.DurationMs
	}
	if p.Output != nil {
		entry.Output = *p.Output
	}
	if p.Error != nil {
		entry.Error = *p.Error
	}
	if p.Manifest != nil {
		entry.Manifest = *p.Manifest
	}
	if p.FileChanges != nil {
		entry.FileChanges = append([]FileChange(nil), p.FileChanges...)
	}
	if p.Truncated != nil {
		entry.Truncated = *p.Truncated
	}
	return entry
}
