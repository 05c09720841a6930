// Package upload stores rental and return photo evidence on local disk and
// hands back public references for the cycle records.
package upload

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	MaxFileSize   = 10 * 1024 * 1024
	MaxFiles      = 10
	DefaultDir    = "./uploads"
	StaticURLBase = "/static/uploads"
)

type Kind string

const (
	KindRental Kind = "rental"
	KindReturn Kind = "return"
)

func (k Kind) Valid() bool { return k == KindRental || k == KindReturn }

var (
	ErrEmptyFile       = errors.New("file is empty")
	ErrFileTooLarge    = errors.New("file exceeds maximum allowed size")
	ErrInvalidMimeType = errors.New("only jpeg, png, gif and webp images are allowed")
	ErrInvalidKind     = errors.New("kind must be rental or return")
	ErrTooManyFiles    = errors.New("too many files")
	ErrNoFiles         = errors.New("no files provided")
)

var allowedMime = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

type Service struct {
	baseDir    string
	staticBase string
	now        func() time.Time
}

func NewService(baseDir, staticBase string) *Service {
	if baseDir == "" {
		baseDir = DefaultDir
	}
	if staticBase == "" {
		staticBase = StaticURLBase
	}
	return &Service{baseDir: baseDir, staticBase: strings.TrimRight(staticBase, "/"), now: time.Now}
}

func (s *Service) BaseDir() string    { return s.baseDir }
func (s *Service) StaticBase() string { return s.staticBase }

// SaveAll validates every file first, then writes them under
// <base>/<equipmentID>/<kind>/<unix-millis>/<index><ext>. Nothing is written
// if any file is rejected.
func (s *Service) SaveAll(equipmentID string, kind Kind, files []*multipart.FileHeader) ([]string, error) {
	if !kind.Valid() {
		return nil, ErrInvalidKind
	}
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	if len(files) > MaxFiles {
		return nil, ErrTooManyFiles
	}
	exts := make([]string, len(files))
	for i, fh := range files {
		ext, err := check(fh)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fh.Filename, err)
		}
		exts[i] = ext
	}

	rel := path.Join(safeSegment(equipmentID), string(kind), strconv.FormatInt(s.now().UnixMilli(), 10))
	absDir := filepath.Join(s.baseDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}

	refs := make([]string, 0, len(files))
	for i, fh := range files {
		name := strconv.Itoa(i) + exts[i]
		if err := writeFile(fh, filepath.Join(absDir, name)); err != nil {
			_ = os.RemoveAll(absDir)
			return nil, err
		}
		refs = append(refs, s.staticBase+"/"+path.Join(rel, name))
	}
	return refs, nil
}

// check returns the canonical extension for an acceptable image.
func check(fh *multipart.FileHeader) (string, error) {
	if fh.Size == 0 {
		return "", ErrEmptyFile
	}
	if fh.Size > MaxFileSize {
		return "", ErrFileTooLarge
	}
	f, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, _ := io.ReadFull(f, buf)
	mime := strings.Split(http.DetectContentType(buf[:n]), ";")[0]
	ext, ok := allowedMime[mime]
	if !ok {
		return "", ErrInvalidMimeType
	}
	return ext, nil
}

func writeFile(fh *multipart.FileHeader, dst string) error {
	src, err := fh.Open()
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(out, io.LimitReader(src, MaxFileSize+1)); err != nil {
		out.Close()
		return fmt.Errorf("write file: %w", err)
	}
	return out.Close()
}

// safeSegment keeps an id usable as a single path element.
func safeSegment(id string) string {
	seg := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, id)
	if seg == "" || seg == "." || seg == ".." {
		return "_"
	}
	return seg
}
