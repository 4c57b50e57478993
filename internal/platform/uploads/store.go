// Package uploads provides disk-backed storage for attachment uploads.
// Files are grouped under a sanitized per-patient directory (or "unassigned")
// and stored under a random prefix so repeated uploads of the same report
// never collide.
package uploads

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrMissingFile    = errors.New("at least one file is required")
	ErrOutsideRoot    = errors.New("stored file is outside the uploads root")
	ErrStoredFileGone = errors.New("stored file does not exist")
)

var safeTextPattern = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// Descriptor describes a stored upload.
type Descriptor struct {
	FileName   string `json:"file_name"`
	StoredPath string `json:"stored_path"`
	SizeBytes  int64  `json:"size_bytes"`
}

// Store writes uploaded files below a fixed root directory.
type Store struct {
	root string
}

func NewStore(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve uploads root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads root: %w", err)
	}
	return &Store{root: abs}, nil
}

func (s *Store) Root() string { return s.root }

// Save stores the content of one multipart file header and returns its
// descriptor. patientID may be empty, in which case the file lands under
// "unassigned".
func (s *Store) Save(fh *multipart.FileHeader, patientID string) (Descriptor, error) {
	if fh == nil {
		return Descriptor{}, ErrMissingFile
	}

	dir := filepath.Join(s.root, patientDir(patientID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Descriptor{}, fmt.Errorf("create patient directory: %w", err)
	}

	originalName := SanitizeFileName(fh.Filename)
	storedName := strings.ReplaceAll(uuid.NewString(), "-", "") + "_" + originalName
	destination := filepath.Join(dir, storedName)

	src, err := fh.Open()
	if err != nil {
		return Descriptor{}, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(destination)
	if err != nil {
		return Descriptor{}, fmt.Errorf("create stored file: %w", err)
	}
	defer dst.Close()

	size, err := io.Copy(dst, src)
	if err != nil {
		os.Remove(destination)
		return Descriptor{}, fmt.Errorf("write stored file: %w", err)
	}

	return Descriptor{
		FileName:   originalName,
		StoredPath: destination,
		SizeBytes:  size,
	}, nil
}

// SaveAll stores every file header and returns descriptors in order.
func (s *Store) SaveAll(files []*multipart.FileHeader, patientID string) ([]Descriptor, error) {
	if len(files) == 0 {
		return nil, ErrMissingFile
	}
	out := make([]Descriptor, 0, len(files))
	for _, fh := range files {
		d, err := s.Save(fh, patientID)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Resolve verifies that storedPath refers to an existing regular file inside
// the uploads root and returns its absolute path. Jobs carry stored paths
// across restarts, so the check runs again before each processing attempt.
func (s *Store) Resolve(storedPath string) (string, error) {
	abs, err := filepath.Abs(storedPath)
	if err != nil {
		return "", fmt.Errorf("resolve stored path: %w", err)
	}
	rel, err := filepath.Rel(s.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	info, err := os.Stat(abs)
	if err != nil || !info.Mode().IsRegular() {
		return "", ErrStoredFileGone
	}
	return abs, nil
}

func patientDir(patientID string) string {
	token := strings.TrimSpace(patientID)
	if token == "" {
		return "unassigned"
	}
	return Sanitize(token)
}

// Sanitize replaces any run of unsafe characters with an underscore.
func Sanitize(value string) string {
	cleaned := safeTextPattern.ReplaceAllString(strings.TrimSpace(value), "_")
	cleaned = strings.Trim(cleaned, "._")
	if cleaned == "" {
		return "unknown"
	}
	return cleaned
}

// SanitizeFileName sanitizes the base name of an uploaded file.
func SanitizeFileName(name string) string {
	if name == "" {
		return "upload.bin"
	}
	return Sanitize(filepath.Base(name))
}
