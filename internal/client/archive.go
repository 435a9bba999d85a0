package client

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Upload is one item ready to send: a regular file as is, or a directory
// packed into a ZIP archive named after it.
type Upload struct {
	Name   string
	Size   int64
	Source string
	open   func() (io.ReadCloser, error)
}

// Open returns a fresh reader over the upload body.
func (u Upload) Open() (io.ReadCloser, error) {
	return u.open()
}

// PrepareUploads turns parsed paths into uploads. Directories are archived in
// memory; the server accepts them as .zip files.
func PrepareUploads(paths []ParsedPath) ([]Upload, error) {
	uploads := make([]Upload, 0, len(paths))

	for _, p := range paths {
		switch p.Kind {
		case PathDir:
			data, err := ArchiveDir(p.FullPath)
			if err != nil {
				return nil, err
			}
			uploads = append(uploads, Upload{
				Name:   filepath.Base(p.FullPath) + ".zip",
				Size:   int64(len(data)),
				Source: p.FullPath,
				open: func() (io.ReadCloser, error) {
					return io.NopCloser(bytes.NewReader(data)), nil
				},
			})
		default:
			info, err := os.Stat(p.FullPath)
			if err != nil {
				return nil, fmt.Errorf("failed to stat %s: %w", p.FullPath, err)
			}
			path := p.FullPath
			uploads = append(uploads, Upload{
				Name:   filepath.Base(path),
				Size:   info.Size(),
				Source: path,
				open: func() (io.ReadCloser, error) {
					return os.Open(path)
				},
			})
		}
	}

	return uploads, nil
}

// ArchiveDir packs a directory tree into a ZIP. Entry names are relative to
// the directory's parent, so the archive unpacks into a folder of the same name.
func ArchiveDir(dir string) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	parent := filepath.Dir(dir)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(parent, path)
		if err != nil {
			return err
		}
		return addFileToZip(zw, path, filepath.ToSlash(rel))
	})
	if err != nil {
		zw.Close()
		return nil, fmt.Errorf("failed to archive %s: %w", dir, err)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close zip writer: %w", err)
	}

	return buf.Bytes(), nil
}

func addFileToZip(zw *zip.Writer, srcPath, archivePath string) error {
	file, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", srcPath, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("failed to create zip header: %w", err)
	}
	header.Name = archivePath
	header.Method = zip.Deflate

	writer, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to create zip entry: %w", err)
	}

	if _, err := io.Copy(writer, file); err != nil {
		return fmt.Errorf("failed to write file to zip: %w", err)
	}

	return nil
}
