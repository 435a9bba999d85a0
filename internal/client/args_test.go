package client

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func setupTestFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	tmpDir := t.TempDir()

	for name, content := range files {
		filePath := filepath.Join(tmpDir, name)
		if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
			t.Fatalf("failed to create dir for %s: %v", name, err)
		}
		if err := os.WriteFile(filePath, []byte(content), 0644); err != nil {
			t.Fatalf("failed to create test file %s: %v", name, err)
		}
	}

	return tmpDir
}

func assertValidationError(t *testing.T, err error, expectedArg string, expectedCause string) {
	t.Helper()
	validationErr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if expectedArg != "" && validationErr.Arg != expectedArg {
		t.Errorf("expected Arg to be %q, got %q", expectedArg, validationErr.Arg)
	}
	if expectedCause != "" && validationErr.Cause != expectedCause {
		t.Errorf("expected Cause to be %q, got %q", expectedCause, validationErr.Cause)
	}
}

func readZip(t *testing.T, data []byte) map[string]string {
	t.Helper()

	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("failed to create zip reader: %v", err)
	}

	out := make(map[string]string)
	for _, f := range reader.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("failed to open %s: %v", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("failed to read %s: %v", f.Name, err)
		}
		out[f.Name] = string(content)
	}
	return out
}

func TestParseArgs(t *testing.T) {
	t.Run("empty args returns error", func(t *testing.T) {
		result, err := ParseArgs([]string{})
		if err == nil {
			t.Fatal("expected error for empty args")
		}
		if result != nil {
			t.Error("expected nil result for empty args")
		}
		assertValidationError(t, err, "<paths>", "no files provided")
	})

	t.Run("files and directories", func(t *testing.T) {
		dir := setupTestFiles(t, map[string]string{
			"report.pdf":        "pdf",
			"photos/a.png":      "png",
			"photos/deep/b.gif": "gif",
		})

		result, err := ParseArgs([]string{
			filepath.Join(dir, "report.pdf"),
			filepath.Join(dir, "photos") + "/",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(result) != 2 {
			t.Fatalf("expected 2 parsed paths, got %d", len(result))
		}
		if result[0].Kind != PathFile {
			t.Errorf("expected file kind for report.pdf")
		}
		if result[1].Kind != PathDir || result[1].FullPath != filepath.Join(dir, "photos") {
			t.Errorf("expected cleaned dir path, got %+v", result[1])
		}
	})

	t.Run("missing path", func(t *testing.T) {
		_, err := ParseArgs([]string{"/definitely/not/here.txt"})
		assertValidationError(t, err, "/definitely/not/here.txt", "not found or not accessible")
	})
}

func TestPrepareUploads(t *testing.T) {
	dir := setupTestFiles(t, map[string]string{
		"notes.txt":         "hello",
		"photos/a.png":      "png",
		"photos/deep/b.gif": "gif",
	})

	parsed, err := ParseArgs([]string{filepath.Join(dir, "notes.txt"), filepath.Join(dir, "photos")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	uploads, err := PrepareUploads(parsed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(uploads) != 2 {
		t.Fatalf("expected 2 uploads, got %d", len(uploads))
	}

	file := uploads[0]
	if file.Name != "notes.txt" || file.Size != 5 {
		t.Errorf("unexpected file upload %+v", file)
	}
	rc, err := file.Open()
	if err != nil {
		t.Fatalf("failed to open upload: %v", err)
	}
	content, _ := io.ReadAll(rc)
	rc.Close()
	if string(content) != "hello" {
		t.Errorf("expected 'hello', got %q", content)
	}

	archive := uploads[1]
	if archive.Name != "photos.zip" {
		t.Errorf("expected photos.zip, got %s", archive.Name)
	}
	rc, err = archive.Open()
	if err != nil {
		t.Fatalf("failed to open archive upload: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if int64(len(data)) != archive.Size {
		t.Errorf("size %d does not match archive length %d", archive.Size, len(data))
	}

	got := readZip(t, data)
	want := map[string]string{"photos/a.png": "png", "photos/deep/b.gif": "gif"}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %v", len(want), got)
	}
	for name, content := range want {
		if got[name] != content {
			t.Errorf("entry %s: expected %q, got %q", name, content, got[name])
		}
	}
}

func TestArchiveDirEmpty(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "empty")
	if err := os.Mkdir(dir, 0755); err != nil {
		t.Fatal(err)
	}

	data, err := ArchiveDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(readZip(t, data)) != 0 {
		t.Error("expected no entries")
	}
}
