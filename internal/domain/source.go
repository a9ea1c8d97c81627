package domain

// Source types accepted by the gateway build endpoints.
const (
	SourceGit = "git"
	SourceZip = "zip"
)

// SourceSpec describes where a build takes its sources from.
type SourceSpec struct {
	Type     string     `json:"type"`
	Runtime  string     `json:"runtime,omitempty"`
	Git      *GitSource `json:"git,omitempty"`
	Zip      *ZipSource `json:"zip,omitempty"`
	Manifest string     `json:"manifest,omitempty"`
}

// GitSource points at a repository ref and optional sub directory.
type GitSource struct {
	URL  string `json:"url"`
	Ref  string `json:"ref,omitempty"`
	Path string `json:"path,omitempty"`
}

// ZipSource carries a base64 encoded archive.
type ZipSource struct {
	Filename string `json:"filename,omitempty"`
	Data     string `json:"data,omitempty"`
}

// SourceFile is one file of the locally held source overlay.
type SourceFile struct {
	Path            string `json:"path"`
	Content         string `json:"content"`
	OriginalContent string `json:"originalContent,omitempty"`
	Editable        bool   `json:"editable"`
	Modified        bool   `json:"modified"`
	FromSource      bool   `json:"fromSource"`
}

// FileChange is a single upsert or deletion submitted alongside a source.
type FileChange struct {
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
	Remove  bool   `json:"remove,omitempty"`
}
