package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// LocalStorage implements BlobStorage on the local filesystem
type LocalStorage struct {
	basePath string
	locks    *pathLocks
}

// pathLocks serializes writers of the same path; different paths never wait on each other
type pathLocks struct {
	mu   sync.Mutex
	held map[string]*pathLock
}

type pathLock struct {
	sync.Mutex
	refs int
}

func newPathLocks() *pathLocks {
	return &pathLocks{held: make(map[string]*pathLock)}
}

// lock blocks until path is free and returns its release func
func (p *pathLocks) lock(path string) func() {
	p.mu.Lock()
	entry, ok := p.held[path]
	if !ok {
		entry = &pathLock{}
		p.held[path] = entry
	}
	entry.refs++
	p.mu.Unlock()

	entry.Lock()
	return func() {
		entry.Unlock()

		p.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(p.held, path)
		}
		p.mu.Unlock()
	}
}

// NewLocalStorage creates a new local storage instance rooted at basePath
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		log.Error().Err(err).Str("path", basePath).Msg("failed to create storage directory")
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	log.Info().Str("path", basePath).Msg("local storage initialized")
	return &LocalStorage{
		basePath: basePath,
		locks:    newPathLocks(),
	}, nil
}

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// Store saves content with an atomic temp-file write followed by a rename
func (ls *LocalStorage) Store(ctx context.Context, path string, content io.Reader, contentType string) error {
	startTime := time.Now()

	if err := checkContext(ctx); err != nil {
		return err
	}

	defer ls.locks.lock(path)()

	fullPath := filepath.Join(ls.basePath, path)

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Error().Err(err).Str("path", path).Str("dir", dir).Msg("failed to create directory")
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempPath := fullPath + ".tmp." + fmt.Sprintf("%d", time.Now().UnixNano())
	tempFile, err := os.Create(tempPath)
	if err != nil {
		log.Error().Err(err).Str("path", path).Str("temp_path", tempPath).Msg("failed to create temporary file")
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	defer func() {
		tempFile.Close()
		if _, err := os.Stat(tempPath); err == nil {
			os.Remove(tempPath)
		}
	}()

	hasher := sha256.New()
	bytesWritten, err := io.Copy(io.MultiWriter(tempFile, hasher), content)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to write content to temporary file")
		return fmt.Errorf("failed to write content: %w", err)
	}

	if err := tempFile.Sync(); err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to sync temporary file")
		return fmt.Errorf("failed to sync temporary file: %w", err)
	}

	tempFile.Close()

	if err := os.Rename(tempPath, fullPath); err != nil {
		log.Error().Err(err).Str("path", path).Str("temp_path", tempPath).Msg("failed to move temporary file to final location")
		return fmt.Errorf("failed to move file to final location: %w", err)
	}

	log.Debug().
		Str("path", path).
		Str("content_type", contentType).
		Int64("bytes_written", bytesWritten).
		Str("checksum", hex.EncodeToString(hasher.Sum(nil))).
		Dur("duration", time.Since(startTime)).
		Msg("file stored")

	return nil
}

// Create allocates an empty file, refusing to clobber an existing one
func (ls *LocalStorage) Create(ctx context.Context, path string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	defer ls.locks.lock(path)()

	fullPath := filepath.Join(ls.basePath, path)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.OpenFile(fullPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, path)
		}
		log.Error().Err(err).Str("path", path).Msg("failed to create file")
		return fmt.Errorf("failed to create file: %w", err)
	}

	return file.Close()
}

// Append writes data at the end of an existing file and syncs it before returning
func (ls *LocalStorage) Append(ctx context.Context, path string, data []byte) (int64, error) {
	if err := checkContext(ctx); err != nil {
		return 0, err
	}

	defer ls.locks.lock(path)()

	fullPath := filepath.Join(ls.basePath, path)

	// no O_CREATE: a deleted blob must stay deleted
	file, err := os.OpenFile(fullPath, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return 0, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(data); err != nil {
		log.Error().Err(err).Str("path", path).Int("bytes", len(data)).Msg("failed to append to file")
		return 0, fmt.Errorf("failed to append: %w", err)
	}

	if err := file.Sync(); err != nil {
		return 0, fmt.Errorf("failed to sync file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to get file info: %w", err)
	}

	return info.Size(), nil
}

// Truncate shrinks an existing file to size
func (ls *LocalStorage) Truncate(ctx context.Context, path string, size int64) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	defer ls.locks.lock(path)()

	fullPath := filepath.Join(ls.basePath, path)
	if err := os.Truncate(fullPath, size); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return fmt.Errorf("failed to truncate file: %w", err)
	}

	log.Warn().Str("path", path).Int64("size", size).Msg("file truncated")
	return nil
}

// Retrieve opens the file at path for reading
func (ls *LocalStorage) Retrieve(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	file, err := os.Open(filepath.Join(ls.basePath, path))
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug().Str("path", path).Msg("file not found")
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		log.Error().Err(err).Str("path", path).Msg("failed to open file")
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return file, nil
}

// Delete removes the file at path; a missing file is not an error
func (ls *LocalStorage) Delete(ctx context.Context, path string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	defer ls.locks.lock(path)()

	if err := os.Remove(filepath.Join(ls.basePath, path)); err != nil {
		if os.IsNotExist(err) {
			log.Debug().Str("path", path).Msg("file already deleted or does not exist")
			return nil
		}
		log.Error().Err(err).Str("path", path).Msg("failed to delete file")
		return fmt.Errorf("failed to delete file: %w", err)
	}

	log.Debug().Str("path", path).Msg("file deleted")
	return nil
}

// Exists checks if a file exists at path
func (ls *LocalStorage) Exists(ctx context.Context, path string) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}

	_, err := os.Stat(filepath.Join(ls.basePath, path))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		log.Error().Err(err).Str("path", path).Msg("failed to check file existence")
		return false, fmt.Errorf("failed to check file existence: %w", err)
	}

	return true, nil
}

// GetSize returns the size of the file at path
func (ls *LocalStorage) GetSize(ctx context.Context, path string) (int64, error) {
	if err := checkContext(ctx); err != nil {
		return 0, err
	}

	info, err := os.Stat(filepath.Join(ls.basePath, path))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		log.Error().Err(err).Str("path", path).Msg("failed to get file info")
		return 0, fmt.Errorf("failed to get file info: %w", err)
	}

	return info.Size(), nil
}

// List returns the relative paths of all files below prefix
func (ls *LocalStorage) List(ctx context.Context, prefix string) ([]string, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	searchPath := filepath.Join(ls.basePath, prefix)
	paths := []string{}

	err := filepath.Walk(searchPath, func(path string, info os.FileInfo, err error) error {
		if err := checkContext(ctx); err != nil {
			return err
		}

		if err != nil {
			if os.IsNotExist(err) || os.IsPermission(err) {
				log.Debug().Err(err).Str("path", path).Msg("skipping inaccessible path")
				return filepath.SkipDir
			}
			return err
		}

		if !info.IsDir() {
			relPath, err := filepath.Rel(ls.basePath, path)
			if err != nil {
				return err
			}
			paths = append(paths, filepath.ToSlash(relPath))
		}

		return nil
	})

	if err != nil && !errors.Is(err, filepath.SkipDir) {
		log.Error().Err(err).Str("prefix", prefix).Msg("failed to list files")
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	return paths, nil
}

// Locate returns the absolute filesystem path of a stored file
func (ls *LocalStorage) Locate(path string) string {
	fullPath := filepath.Join(ls.basePath, path)
	if abs, err := filepath.Abs(fullPath); err == nil {
		return abs
	}
	return fullPath
}
