package storage

import (
	"errors"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		size    int64
		wantErr error
	}{
		{"pdf accepted", "report.pdf", 5000, nil},
		{"uppercase suffix", "PHOTO.JPG", 10, nil},
		{"last suffix wins", "archive.tar.zip", 10, nil},
		{"exactly max size", "movie.mkv", MaxFileSize, nil},
		{"executable rejected", "malware.exe", 10, ErrInvalidFileType},
		{"no suffix rejected", "README", 10, ErrInvalidFileType},
		{"trailing dot rejected", "notes.", 10, ErrInvalidFileType},
		{"hidden double suffix", "evil.pdf.exe", 10, ErrInvalidFileType},
		{"empty name", "", 10, ErrEmptyFilename},
		{"blank name", "   ", 10, ErrEmptyFilename},
		{"one byte over max", "movie.mkv", MaxFileSize + 1, ErrFileTooLarge},
		{"zero bytes", "empty.txt", 0, ErrEmptyFile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.file, tt.size)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Validate(%q, %d) unexpected error: %v", tt.file, tt.size, err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate(%q, %d) = %v, want %v", tt.file, tt.size, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple name", "report.pdf", "report.pdf"},
		{"spaces become underscores", "My cool movie.mp4", "My_cool_movie.mp4"},
		{"strips traversal", "../../../etc/passwd", "etc_passwd"},
		{"windows path", "C:\\Users\\test\\file.zip", "C_Users_test_file.zip"},
		{"umlauts folded", "i contain cool \u00fcml\u00e4uts.txt", "i_contain_cool_umlauts.txt"},
		{"control characters dropped", "bad\x00name\x1f.txt", "badname.txt"},
		{"leading dots trimmed", "...hidden.txt", "hidden.txt"},
		{"only dots", "...", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}

	t.Run("caps length and keeps suffix", func(t *testing.T) {
		result := SanitizeFilename(strings.Repeat("a", 500) + ".pdf")
		if len(result) != 200 {
			t.Errorf("expected length 200, got %d", len(result))
		}
		if !strings.HasSuffix(result, ".pdf") {
			t.Errorf("expected .pdf suffix, got %q", result)
		}
	})
}
