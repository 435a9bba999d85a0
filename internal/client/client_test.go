package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, mux *http.ServeMux, token string) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL+"/", token)
	require.NoError(t, err)
	return c
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New("ftp://example.com", "")
	assert.Error(t, err)
}

func TestLogin(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/admin/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["password"] != "hunter2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"token": "tok"})
	})
	c := newTestClient(t, mux, "")

	_, err := c.Login(context.Background(), "admin", "nope")
	assert.ErrorIs(t, err, ErrUnauthorized)

	token, err := c.Login(context.Background(), "admin", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "tok", token)
	assert.Equal(t, "tok", c.Token())
}

func TestUploadSendsMultipart(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/admin/upload", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		content, _ := io.ReadAll(f)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(File{ID: 1, Name: hdr.Filename, Size: int64(len(content))})
	})
	c := newTestClient(t, mux, "tok")

	dir := setupTestFiles(t, map[string]string{"notes.txt": "hello"})
	uploads, err := PrepareUploads([]ParsedPath{{FullPath: filepath.Join(dir, "notes.txt"), Kind: PathFile}})
	require.NoError(t, err)

	f, err := c.Upload(context.Background(), uploads[0])
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", f.Name)
	assert.Equal(t, int64(5), f.Size)
}

func TestAPIErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/files/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("DELETE /api/admin/files/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"internal server error"}`))
	})
	c := newTestClient(t, mux, "tok")

	_, err := c.Info(context.Background(), 3)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.Delete(context.Background(), 3)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Equal(t, "internal server error", apiErr.Message)
}

func TestListAndStats(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/files", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":2,"name":"b.txt","size":5000,"human_size":"4.9 KB"},{"id":1,"name":"a.txt","size":1,"human_size":"1 B"}]`))
	})
	mux.HandleFunc("GET /api/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"total_files":2,"total_downloads":7,"storage_used_bytes":5001,"storage_used_human":"4.9 KB"}`))
	})
	c := newTestClient(t, mux, "")

	files, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "4.9 KB", files[0].HumanSize)

	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), stats.TotalDownloads)
}

func TestDownloadUsesSuggestedName(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /d/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="../report.pdf"`)
		w.Write([]byte("pdf bytes"))
	})
	c := newTestClient(t, mux, "")

	dir := t.TempDir()
	path, err := c.Download(context.Background(), 5, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "report.pdf"), path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "pdf bytes", string(content))

	_, err = c.Download(context.Background(), 5, dir)
	assert.Error(t, err, "existing files are never overwritten")
}

func TestSessionToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "session")

	token, err := LoadToken(path)
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, SaveToken(path, "tok"))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	token, err = LoadToken(path)
	require.NoError(t, err)
	assert.Equal(t, "tok", token)

	require.NoError(t, ClearToken(path))
	require.NoError(t, ClearToken(path))
}

func TestWatchJoinsAdminChannel(t *testing.T) {
	upgrader := websocket.Upgrader{}
	joined := make(chan string, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		cookie, _ := r.Cookie("session")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var msg map[string]string
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if cookie != nil {
			joined <- msg["action"] + ":" + cookie.Value
		}

		conn.WriteJSON(map[string]any{"event": "file_downloaded", "data": map[string]string{"name": "a.txt"}})
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	})
	c := newTestClient(t, mux, "tok")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got []Event
	err := c.Watch(ctx, true, func(ev Event) { got = append(got, ev) })
	require.NoError(t, err)

	assert.Equal(t, "join_admin:tok", <-joined)
	require.Len(t, got, 1)
	assert.Equal(t, "file_downloaded", got[0].Type)
	assert.True(t, strings.Contains(string(got[0].Data), "a.txt"))
}
