package service

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"sharebox/internal/server/database"
	"sharebox/internal/server/events"
	"sharebox/internal/server/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ev events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

// failingCreateRepo rejects every insert.
type failingCreateRepo struct {
	database.Repository
}

func (failingCreateRepo) CreateFile(context.Context, database.NewFile) (*database.File, error) {
	return nil, errors.New("disk I/O error")
}

type fixture struct {
	svc   *FileService
	repo  database.Repository
	store *storage.FileSystemStore
	pub   *recordingPublisher
	dir   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo, err := database.NewSQLite(context.Background(), filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	dir := t.TempDir()
	store := storage.NewFileSystemStore(dir)
	pub := &recordingPublisher{}

	return &fixture{
		svc:   NewFileService(repo, store, pub),
		repo:  repo,
		store: store,
		pub:   pub,
		dir:   dir,
	}
}

func (fx *fixture) upload(t *testing.T, name string, content []byte) *FileSummary {
	t.Helper()
	f, err := fx.svc.Upload(context.Background(), name, bytes.NewReader(content), int64(len(content)), "")
	require.NoError(t, err)
	return f
}

func (fx *fixture) storedObjects(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(fx.dir)
	require.NoError(t, err)
	return len(entries)
}

func drain(_ *database.File, r io.Reader) error {
	_, err := io.Copy(io.Discard, r)
	return err
}

func TestHumanSize(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{5000, "4.9 KB"},
		{1024*1024 - 1, "1024.0 KB"},
		{1024 * 1024, "1.0 MB"},
		{104857600, "100.0 MB"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, HumanSize(tt.n))
		})
	}
}

func TestUpload(t *testing.T) {
	t.Run("records and publishes", func(t *testing.T) {
		fx := newFixture(t)

		f := fx.upload(t, "report.pdf", bytes.Repeat([]byte("a"), 5000))
		assert.Equal(t, "report.pdf", f.Name)
		assert.Equal(t, int64(5000), f.Size)
		assert.Equal(t, "4.9 KB", f.HumanSize)

		got, err := fx.svc.Get(context.Background(), f.ID)
		require.NoError(t, err)
		assert.Equal(t, "report.pdf", got.Name)
		assert.Equal(t, int64(5000), got.Size)

		stored, err := fx.repo.GetFile(context.Background(), f.ID)
		require.NoError(t, err)
		assert.Equal(t, database.DefaultUploader, stored.UploadedBy)
		assert.True(t, strings.HasSuffix(stored.StorageKey, "_report.pdf"))

		assert.Equal(t, []events.Type{events.TypeFileAdded, events.TypeAdminNotification}, fx.pub.types())
	})

	t.Run("disallowed type leaves no trace", func(t *testing.T) {
		fx := newFixture(t)

		_, err := fx.svc.Upload(context.Background(), "malware.exe", strings.NewReader("MZ"), 2, "")
		assert.ErrorIs(t, err, storage.ErrInvalidFileType)

		files, err := fx.svc.List(context.Background())
		require.NoError(t, err)
		assert.Empty(t, files)
		assert.Zero(t, fx.storedObjects(t))
		assert.Empty(t, fx.pub.types())
	})

	t.Run("too large is rejected before storing", func(t *testing.T) {
		fx := newFixture(t)

		_, err := fx.svc.Upload(context.Background(), "big.mp4", strings.NewReader("x"), storage.MaxFileSize+1, "")
		assert.ErrorIs(t, err, storage.ErrFileTooLarge)
		assert.Zero(t, fx.storedObjects(t))
	})

	t.Run("name is sanitized", func(t *testing.T) {
		fx := newFixture(t)

		f := fx.upload(t, "../../etc/notes.txt", []byte("hi"))
		assert.Equal(t, "etc_notes.txt", f.Name)
	})

	t.Run("short stream is rolled back", func(t *testing.T) {
		fx := newFixture(t)

		_, err := fx.svc.Upload(context.Background(), "notes.txt", strings.NewReader("abc"), 10, "")
		assert.ErrorIs(t, err, storage.ErrIncompleteWrite)
		assert.Zero(t, fx.storedObjects(t))
	})

	t.Run("insert failure removes stored bytes", func(t *testing.T) {
		fx := newFixture(t)
		svc := NewFileService(failingCreateRepo{fx.repo}, fx.store, fx.pub)

		_, err := svc.Upload(context.Background(), "notes.txt", strings.NewReader("abc"), 3, "")
		require.Error(t, err)
		assert.Zero(t, fx.storedObjects(t))
		assert.Empty(t, fx.pub.types())
	})

	t.Run("archive with executable is rejected", func(t *testing.T) {
		fx := newFixture(t)

		var buf bytes.Buffer
		w := zip.NewWriter(&buf)
		entry, err := w.Create("setup.exe")
		require.NoError(t, err)
		_, err = entry.Write([]byte("MZ"))
		require.NoError(t, err)
		require.NoError(t, w.Close())

		_, err = fx.svc.Upload(context.Background(), "bundle.zip", bytes.NewReader(buf.Bytes()), int64(buf.Len()), "")
		assert.ErrorIs(t, err, storage.ErrDangerousArchive)
		assert.Zero(t, fx.storedObjects(t))
	})
}

func TestListNewestFirst(t *testing.T) {
	fx := newFixture(t)

	a := fx.upload(t, "a.txt", []byte("a"))
	b := fx.upload(t, "b.txt", []byte("bb"))

	files, err := fx.svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, b.ID, files[0].ID)
	assert.Equal(t, a.ID, files[1].ID)
	assert.Equal(t, "2 B", files[0].HumanSize)
}

func TestGetNotFound(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.svc.Get(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDownload(t *testing.T) {
	t.Run("streams bytes and records", func(t *testing.T) {
		fx := newFixture(t)
		f := fx.upload(t, "notes.txt", []byte("hello world"))

		var got bytes.Buffer
		err := fx.svc.Download(context.Background(), f.ID, "10.0.0.7", func(file *database.File, r io.Reader) error {
			assert.Equal(t, "notes.txt", file.OriginalName)
			_, err := io.Copy(&got, r)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, "hello world", got.String())

		history, err := fx.svc.History(context.Background(), f.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, "10.0.0.7", history[0].ClientAddress)
		assert.Contains(t, fx.pub.types(), events.TypeFileDownloaded)
	})

	t.Run("aborted delivery records nothing", func(t *testing.T) {
		fx := newFixture(t)
		f := fx.upload(t, "notes.txt", []byte("hello world"))

		broken := errors.New("connection reset")
		err := fx.svc.Download(context.Background(), f.ID, "10.0.0.7", func(*database.File, io.Reader) error {
			return broken
		})
		assert.ErrorIs(t, err, broken)

		n, err := fx.repo.CountDownloads(context.Background(), f.ID)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.NotContains(t, fx.pub.types(), events.TypeFileDownloaded)
	})

	t.Run("missing file", func(t *testing.T) {
		fx := newFixture(t)
		err := fx.svc.Download(context.Background(), 99, "10.0.0.7", drain)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("concurrent downloads each record", func(t *testing.T) {
		fx := newFixture(t)
		f := fx.upload(t, "movie.mp4", bytes.Repeat([]byte("m"), 64*1024))

		var wg sync.WaitGroup
		errs := make(chan error, 2)
		for _, addr := range []string{"10.0.0.1", "10.0.0.2"} {
			wg.Add(1)
			go func(addr string) {
				defer wg.Done()
				errs <- fx.svc.Download(context.Background(), f.ID, addr, drain)
			}(addr)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		n, err := fx.repo.CountDownloads(context.Background(), f.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("delete during delivery drops the record", func(t *testing.T) {
		fx := newFixture(t)
		f := fx.upload(t, "notes.txt", []byte("hello world"))

		err := fx.svc.Download(context.Background(), f.ID, "10.0.0.7", func(_ *database.File, r io.Reader) error {
			if _, err := fx.svc.Delete(context.Background(), f.ID); err != nil {
				return err
			}
			_, err := io.Copy(io.Discard, r)
			return err
		})
		require.NoError(t, err)

		_, err = fx.svc.Get(context.Background(), f.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		stats, err := fx.svc.Stats(context.Background())
		require.NoError(t, err)
		assert.Zero(t, stats.TotalDownloads)
	})
}

func TestDelete(t *testing.T) {
	t.Run("removes record history and bytes", func(t *testing.T) {
		fx := newFixture(t)
		f := fx.upload(t, "report.pdf", bytes.Repeat([]byte("r"), 5000))
		for i := 0; i < 2; i++ {
			require.NoError(t, fx.svc.Download(context.Background(), f.ID, "10.0.0.7", drain))
		}

		res, err := fx.svc.Delete(context.Background(), f.ID)
		require.NoError(t, err)
		assert.True(t, res.MetadataDeleted)
		assert.True(t, res.BytesRemoved)
		assert.Equal(t, int64(2), res.DownloadsRemoved)
		assert.Equal(t, "report.pdf", res.Name)

		_, err = fx.svc.Get(context.Background(), f.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Zero(t, fx.storedObjects(t))

		n, err := fx.repo.CountDownloads(context.Background(), f.ID)
		require.NoError(t, err)
		assert.Zero(t, n)

		assert.Contains(t, fx.pub.types(), events.TypeFileDeleted)
	})

	t.Run("repeat delete reports not found", func(t *testing.T) {
		fx := newFixture(t)
		f := fx.upload(t, "a.txt", []byte("a"))

		_, err := fx.svc.Delete(context.Background(), f.ID)
		require.NoError(t, err)
		_, err = fx.svc.Delete(context.Background(), f.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("missing bytes still delete metadata", func(t *testing.T) {
		fx := newFixture(t)
		f := fx.upload(t, "a.txt", []byte("a"))

		stored, err := fx.repo.GetFile(context.Background(), f.ID)
		require.NoError(t, err)
		require.NoError(t, os.Remove(stored.Path))

		res, err := fx.svc.Delete(context.Background(), f.ID)
		require.NoError(t, err)
		assert.True(t, res.MetadataDeleted)
		assert.True(t, res.BytesRemoved)
	})

	t.Run("failed removal is counted", func(t *testing.T) {
		fx := newFixture(t)
		f := fx.upload(t, "a.txt", []byte("a"))

		// A store rooted elsewhere refuses to remove the object.
		other := NewFileService(fx.repo, storage.NewFileSystemStore(t.TempDir()), fx.pub)
		res, err := other.Delete(context.Background(), f.ID)
		require.NoError(t, err)
		assert.True(t, res.MetadataDeleted)
		assert.False(t, res.BytesRemoved)

		stats, err := other.Stats(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.RemoveFailures)
		assert.Equal(t, 1, fx.storedObjects(t), "orphan stays until the sweeper runs")
	})
}

func TestHistoryNotFound(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.svc.History(context.Background(), 5)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStats(t *testing.T) {
	fx := newFixture(t)
	f := fx.upload(t, "a.txt", bytes.Repeat([]byte("a"), 2048))
	fx.upload(t, "b.txt", []byte("b"))
	require.NoError(t, fx.svc.Download(context.Background(), f.ID, "10.0.0.1", drain))

	stats, err := fx.svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalFiles)
	assert.Equal(t, int64(1), stats.TotalDownloads)
	assert.Equal(t, int64(2049), stats.StorageUsed)
	assert.Equal(t, "2.0 KB", stats.StorageHuman)
	assert.Zero(t, stats.RemoveFailures)
}

func TestNilPublisher(t *testing.T) {
	repo, err := database.NewSQLite(context.Background(), filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	defer repo.Close()

	svc := NewFileService(repo, storage.NewFileSystemStore(t.TempDir()), nil)
	_, err = svc.Upload(context.Background(), "a.txt", strings.NewReader("a"), 1, "")
	require.NoError(t, err)
}
