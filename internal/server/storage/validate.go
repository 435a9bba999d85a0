package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// MaxFileSize is the largest accepted upload (100 MiB).
const MaxFileSize int64 = 100 * 1024 * 1024

// allowedExtensions are the only suffixes accepted for upload.
var allowedExtensions = map[string]bool{
	"txt": true, "pdf": true, "png": true, "jpg": true, "jpeg": true,
	"gif": true, "doc": true, "docx": true, "zip": true, "rar": true,
	"mp4": true, "mp3": true, "mkv": true,
}

// Validation errors.
var (
	ErrEmptyFilename   = errors.New("filename is empty")
	ErrInvalidFileType = errors.New("file type not allowed")
	ErrFileTooLarge    = errors.New("file exceeds maximum allowed size")
	ErrEmptyFile       = errors.New("file is empty")
)

// Storage errors.
var (
	ErrIncompleteWrite  = errors.New("incomplete write")
	ErrNotFound         = errors.New("object not found")
	ErrPermissionDenied = errors.New("permission denied")
)

// Validate checks a display name and declared size before any bytes are stored.
func Validate(name string, declaredSize int64) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyFilename
	}

	dot := strings.LastIndexByte(name, '.')
	if dot < 0 || !allowedExtensions[strings.ToLower(name[dot+1:])] {
		return fmt.Errorf("%w: %s", ErrInvalidFileType, name)
	}

	if declaredSize > MaxFileSize {
		return fmt.Errorf("%w: %d bytes", ErrFileTooLarge, declaredSize)
	}
	if declaredSize <= 0 {
		return ErrEmptyFile
	}
	return nil
}

// AllowedExtensions returns the accepted suffixes, without dots.
func AllowedExtensions() []string {
	exts := make([]string, 0, len(allowedExtensions))
	for ext := range allowedExtensions {
		exts = append(exts, ext)
	}
	return exts
}

// SanitizeFilename reduces a client-supplied name to a safe ASCII base name.
// Path separators become word breaks, characters outside [A-Za-z0-9_.-] are
// dropped, whitespace runs become a single underscore and leading or trailing
// dots and underscores are trimmed. The result may be empty.
func SanitizeFilename(name string) string {
	name = norm.NFKD.String(name)

	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '/' || r == '\\' || r == filepath.Separator:
			b.WriteByte(' ')
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		case r > unicode.MaxASCII || unicode.IsControl(r):
			// dropped
		default:
			b.WriteRune(r)
		}
	}

	fields := strings.Fields(b.String())
	for i, f := range fields {
		fields[i] = strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
				return r
			case r == '_' || r == '.' || r == '-':
				return r
			}
			return -1
		}, f)
	}

	out := strings.Trim(strings.Join(fields, "_"), "._")

	const maxLen = 200
	if len(out) > maxLen {
		ext := filepath.Ext(out)
		if len(ext) >= maxLen {
			ext = ""
		}
		out = out[:maxLen-len(ext)] + ext
	}
	return out
}
