package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"sharebox/internal/server/database"
	"sharebox/internal/server/events"
	"sharebox/internal/server/storage"
)

var ErrNotFound = errors.New("file not found")

// Publisher receives lifecycle events. Publish must not block.
type Publisher interface {
	Publish(ev events.Event)
}

// FileSummary is the public view of a file.
type FileSummary struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	HumanSize  string    `json:"human_size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// DeleteResult reports what a delete actually removed. BytesRemoved is false
// when the metadata was deleted but the stored object could not be.
type DeleteResult struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	MetadataDeleted  bool   `json:"metadata_deleted"`
	BytesRemoved     bool   `json:"bytes_removed"`
	DownloadsRemoved int64  `json:"downloads_removed"`
}

// Stats extends the repository aggregates with service counters.
type Stats struct {
	TotalFiles     int64  `json:"total_files"`
	TotalDownloads int64  `json:"total_downloads"`
	StorageUsed    int64  `json:"storage_used_bytes"`
	StorageHuman   string `json:"storage_used_human"`
	RemoveFailures int64  `json:"remove_failures"`
}

// FileService coordinates storage, metadata and event publication. It is the
// only component that talks to all three.
type FileService struct {
	repo  database.Repository
	store *storage.FileSystemStore
	pub   Publisher

	removeFailures atomic.Int64
}

// NewFileService creates a new file service. A nil publisher discards events.
func NewFileService(repo database.Repository, store *storage.FileSystemStore, pub Publisher) *FileService {
	if pub == nil {
		pub = discardPublisher{}
	}
	return &FileService{repo: repo, store: store, pub: pub}
}

// Upload sanitizes and validates the name, stores the bytes and records the
// file. When the record cannot be inserted the stored bytes are removed.
func (s *FileService) Upload(ctx context.Context, name string, data io.Reader, declaredSize int64, uploadedBy string) (*FileSummary, error) {
	sanitized := storage.SanitizeFilename(name)
	if err := storage.Validate(sanitized, declaredSize); err != nil {
		slog.Warn("upload rejected", "filename", name, "size", declaredSize, "error", err)
		return nil, err
	}

	obj, err := s.store.Ingest(sanitized, data, declaredSize)
	if err != nil {
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	if storage.IsArchive(sanitized) {
		if _, err := s.store.InspectArchive(obj.Path); err != nil {
			s.discard(obj)
			slog.Warn("archive rejected", "filename", sanitized, "error", err)
			return nil, err
		}
	}

	f, err := s.repo.CreateFile(ctx, database.NewFile{
		StorageKey:   obj.StorageKey,
		OriginalName: sanitized,
		Path:         obj.Path,
		Size:         obj.Size,
		UploadedBy:   uploadedBy,
	})
	if err != nil {
		s.discard(obj)
		return nil, fmt.Errorf("failed to create file record: %w", err)
	}

	slog.Info("file uploaded",
		"id", f.ID,
		"filename", f.OriginalName,
		"size", f.Size,
		"storage_key", f.StorageKey,
		"uploaded_by", f.UploadedBy,
	)

	summary := summarize(f)
	s.pub.Publish(events.FileAdded(f.ID, f.OriginalName, f.Size, summary.HumanSize, f.UploadedAt))
	s.pub.Publish(events.Notification("success", fmt.Sprintf("File %s uploaded successfully", f.OriginalName)))

	return summary, nil
}

// List returns every file, newest first.
func (s *FileService) List(ctx context.Context) ([]FileSummary, error) {
	files, err := s.repo.ListFiles(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]FileSummary, 0, len(files))
	for _, f := range files {
		out = append(out, *summarize(f))
	}
	return out, nil
}

// Get returns a single file.
func (s *FileService) Get(ctx context.Context, id int64) (*FileSummary, error) {
	f, err := s.getFile(ctx, id)
	if err != nil {
		return nil, err
	}
	return summarize(f), nil
}

// Download streams a file through deliver. A download is recorded only when
// deliver returns nil; aborted transfers leave no record. A record rejected
// because the file was deleted mid-transfer is dropped and the download still
// succeeds.
func (s *FileService) Download(ctx context.Context, id int64, clientAddress string, deliver func(f *database.File, r io.Reader) error) error {
	f, err := s.getFile(ctx, id)
	if err != nil {
		return err
	}

	rc, err := s.store.Fetch(f.Path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			slog.Error("file record without stored object", "id", f.ID, "path", f.Path)
			return ErrNotFound
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer rc.Close()

	if err := deliver(f, rc); err != nil {
		slog.Warn("download aborted", "id", f.ID, "client", clientAddress, "error", err)
		return err
	}

	d, err := s.repo.RecordDownload(context.WithoutCancel(ctx), f.ID, clientAddress)
	switch {
	case errors.Is(err, database.ErrForeignKeyViolation):
		slog.Warn("file deleted during download, record dropped", "id", f.ID, "client", clientAddress)
	case err != nil:
		slog.Error("failed to record download", "id", f.ID, "client", clientAddress, "error", err)
	default:
		slog.Info("file downloaded", "id", f.ID, "filename", f.OriginalName, "client", clientAddress)
	}

	at := time.Now().UTC()
	if d != nil {
		at = d.DownloadedAt
	}
	s.pub.Publish(events.FileDownloaded(f.OriginalName, clientAddress, at))
	return nil
}

// Delete removes the file record and its downloads, then the stored bytes.
// A failed byte removal is reported and counted but never undoes the metadata
// delete; the sweeper collects the orphan later.
func (s *FileService) Delete(ctx context.Context, id int64) (*DeleteResult, error) {
	f, downloads, err := s.repo.DeleteFile(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrFileNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to delete file record: %w", err)
	}

	result := &DeleteResult{
		ID:               f.ID,
		Name:             f.OriginalName,
		MetadataDeleted:  true,
		BytesRemoved:     true,
		DownloadsRemoved: downloads,
	}

	if err := s.store.Remove(f.Path); err != nil {
		result.BytesRemoved = false
		s.removeFailures.Add(1)
		slog.Error("failed to remove stored object", "id", f.ID, "path", f.Path, "error", err)
	}

	slog.Info("file deleted",
		"id", f.ID,
		"filename", f.OriginalName,
		"downloads_removed", downloads,
		"bytes_removed", result.BytesRemoved,
	)

	s.pub.Publish(events.FileDeleted(f.ID))
	s.pub.Publish(events.Notification("info", fmt.Sprintf("File %s deleted", f.OriginalName)))

	return result, nil
}

// History returns the download records of a file.
func (s *FileService) History(ctx context.Context, id int64) ([]*database.Download, error) {
	if _, err := s.getFile(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListDownloads(ctx, id)
}

// Stats returns aggregate statistics.
func (s *FileService) Stats(ctx context.Context) (*Stats, error) {
	st, err := s.repo.GetStats(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		TotalFiles:     st.TotalFiles,
		TotalDownloads: st.TotalDownloads,
		StorageUsed:    st.StorageUsed,
		StorageHuman:   HumanSize(st.StorageUsed),
		RemoveFailures: s.removeFailures.Load(),
	}, nil
}

// HealthCheck reports whether the metadata store is reachable.
func (s *FileService) HealthCheck(ctx context.Context) error {
	return s.repo.HealthCheck(ctx)
}

func (s *FileService) getFile(ctx context.Context, id int64) (*database.File, error) {
	f, err := s.repo.GetFile(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrFileNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

// HumanSize formats a byte count as "<n> B", "<n.n> KB" or "<n.n> MB".
func HumanSize(n int64) string {
	const unit = 1024
	switch {
	case n < unit:
		return fmt.Sprintf("%d B", n)
	case n < unit*unit:
		return fmt.Sprintf("%.1f KB", float64(n)/unit)
	default:
		return fmt.Sprintf("%.1f MB", float64(n)/(unit*unit))
	}
}

// discard removes an object that never got a file record.
func (s *FileService) discard(obj *storage.Object) {
	if err := s.store.Remove(obj.Path); err != nil {
		s.removeFailures.Add(1)
		slog.Error("failed to remove unrecorded object", "storage_key", obj.StorageKey, "error", err)
	}
}

func summarize(f *database.File) *FileSummary {
	return &FileSummary{
		ID:         f.ID,
		Name:       f.OriginalName,
		Size:       f.Size,
		HumanSize:  HumanSize(f.Size),
		UploadedAt: f.UploadedAt,
	}
}

type discardPublisher struct{}

func (discardPublisher) Publish(events.Event) {}
