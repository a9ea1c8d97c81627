package overlay

import (
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/splax/faasdeck/internal/domain"
)

// SourceKey fingerprints the identity of a source descriptor: the git
// url, ref and sub path, or the archive name and content digest. The
// manifest override and runtime do not contribute.
func SourceKey(spec domain.SourceSpec) string {
	h := blake3.New()
	write := func(parts ...string) {
		for _, p := range parts {
			_, _ = h.Write([]byte(p))
			_, _ = h.Write([]byte{0})
		}
	}
	kind := strings.ToLower(strings.TrimSpace(spec.Type))
	write(kind)
	switch kind {
	case domain.SourceGit:
		if spec.Git != nil {
			write(strings.TrimSpace(spec.Git.URL), strings.TrimSpace(spec.Git.Ref), cleanSubPath(spec.Git.Path))
		}
	case domain.SourceZip:
		if spec.Zip != nil {
			digest := blake3.Sum256([]byte(spec.Zip.Data))
			write(strings.TrimSpace(spec.Zip.Filename), hex.EncodeToString(digest[:]))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func cleanSubPath(p string) string {
	return strings.Trim(strings.TrimSpace(p), "/")
}
