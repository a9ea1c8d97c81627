// Package source builds and validates the source descriptors submitted to
// the gateway build endpoints.
package source

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/splax/faasdeck/internal/domain"
)

const (
	maxEntries    = 2000
	maxTotalBytes = 500 << 20
)

var (
	namePattern  = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)
	skippedDirs  = map[string]bool{".git": true, "node_modules": true, "__pycache__": true, ".venv": true, "vendor": true}
	gitSchemes   = map[string]bool{"https": true, "http": true, "git": true, "ssh": true}
	scpLikeGitRe = regexp.MustCompile(`^[A-Za-z0-9._-]+@[A-Za-z0-9.-]+:`)
)

// Git returns a git source descriptor.
func Git(repoURL, ref, subPath string) domain.SourceSpec {
	return domain.SourceSpec{
		Type: domain.SourceGit,
		Git: &domain.GitSource{
			URL:  strings.TrimSpace(repoURL),
			Ref:  strings.TrimSpace(ref),
			Path: strings.Trim(strings.TrimSpace(subPath), "/"),
		},
	}
}

// Zip returns a zip source descriptor for an archive already in memory.
func Zip(filename string, data []byte) domain.SourceSpec {
	return domain.SourceSpec{
		Type: domain.SourceZip,
		Zip: &domain.ZipSource{
			Filename: filename,
			Data:     base64.StdEncoding.EncodeToString(data),
		},
	}
}

// ZipFile reads an archive from disk.
func ZipFile(p string) (domain.SourceSpec, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return domain.SourceSpec{}, fmt.Errorf("read zip: %w", err)
	}
	if _, err := zip.NewReader(bytes.NewReader(data), int64(len(data))); err != nil {
		return domain.SourceSpec{}, domain.Invalid("zip", "%s is not a zip archive", filepath.Base(p))
	}
	return Zip(filepath.Base(p), data), nil
}

// ZipDir packs dir into an in-memory archive, skipping VCS and dependency
// directories.
func ZipDir(dir string) (domain.SourceSpec, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return domain.SourceSpec{}, fmt.Errorf("stat source dir: %w", err)
	}
	if !info.IsDir() {
		return domain.SourceSpec{}, domain.Invalid("dir", "%s is not a directory", dir)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	var entries int
	var total int64
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if p != dir && skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		entries++
		total += fi.Size()
		if entries > maxEntries {
			return domain.Invalid("dir", "more than %d files", maxEntries)
		}
		if total > maxTotalBytes {
			return domain.Invalid("dir", "sources exceed %d bytes", maxTotalBytes)
		}
		header, err := zip.FileInfoHeader(fi)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		header.Method = zip.Deflate
		w, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if err != nil {
		return domain.SourceSpec{}, fmt.Errorf("pack %s: %w", dir, err)
	}
	if err := zw.Close(); err != nil {
		return domain.SourceSpec{}, fmt.Errorf("pack %s: %w", dir, err)
	}
	if entries == 0 {
		return domain.SourceSpec{}, domain.Invalid("dir", "%s contains no files", dir)
	}
	return Zip(filepath.Base(filepath.Clean(dir))+".zip", buf.Bytes()), nil
}

// ValidateName checks a function name.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return domain.Invalid("name", "function name is required")
	}
	if !namePattern.MatchString(name) {
		return domain.Invalid("name", "invalid function name: %s", name)
	}
	return nil
}

// Validate checks the required fields of spec.
func Validate(spec domain.SourceSpec) error {
	switch strings.ToLower(strings.TrimSpace(spec.Type)) {
	case domain.SourceGit:
		if spec.Git == nil || strings.TrimSpace(spec.Git.URL) == "" {
			return domain.Invalid("git.url", "git url is required")
		}
		if err := validateGitURL(spec.Git.URL); err != nil {
			return err
		}
		if p := spec.Git.Path; p != "" {
			clean := path.Clean(strings.TrimSpace(p))
			if strings.HasPrefix(clean, "/") || clean == ".." || strings.HasPrefix(clean, "../") {
				return domain.Invalid("git.path", "invalid source path: %s", p)
			}
		}
	case domain.SourceZip:
		if spec.Zip == nil || strings.TrimSpace(spec.Zip.Filename) == "" {
			return domain.Invalid("zip.filename", "zip source requires filename")
		}
		if strings.TrimSpace(spec.Zip.Data) == "" {
			return domain.Invalid("zip.data", "zip data is required")
		}
		if _, err := base64.StdEncoding.DecodeString(spec.Zip.Data); err != nil {
			return domain.Invalid("zip.data", "zip data must be base64")
		}
	case "":
		return domain.Invalid("source.type", "source type is required")
	default:
		return domain.Invalid("source.type", "unsupported source type: %s", spec.Type)
	}
	if spec.Manifest != "" {
		if _, err := ParseManifest([]byte(spec.Manifest)); err != nil {
			return domain.Invalid("manifest", "%v", err)
		}
	}
	return nil
}

func validateGitURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if scpLikeGitRe.MatchString(raw) {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return domain.Invalid("git.url", "invalid git url: %v", err)
	}
	if !gitSchemes[strings.ToLower(u.Scheme)] {
		return domain.Invalid("git.url", "unsupported git url scheme: %s", u.Scheme)
	}
	if u.Hostname() == "" {
		return domain.Invalid("git.url", "git url host is required")
	}
	return nil
}
