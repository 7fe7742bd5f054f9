package cache

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/objectfs/imageloader/pkg/errors"
	"github.com/objectfs/imageloader/pkg/types"
	"github.com/objectfs/imageloader/pkg/utils"
)

const partialPrefix = ".partial-"

// FileStore keeps raw fetched bytes on disk, one file per key, named by the
// key itself. It never evicts.
//
// FileStore does no locking of its own. Callers must not write the same key
// from two goroutines at once; the coordinator guarantees this.
type FileStore struct {
	directory string
	logger    *slog.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
}

// FileStoreConfig represents disk tier configuration
type FileStoreConfig struct {
	Directory string `yaml:"directory"`
	Logger    *slog.Logger
}

// NewFileStore creates the store, creating its directory if needed.
func NewFileStore(config *FileStoreConfig) (*FileStore, error) {
	if config == nil || config.Directory == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "file store directory is required").
			WithComponent("filestore")
	}

	directory := filepath.Clean(config.Directory)
	if err := os.MkdirAll(directory, 0750); err != nil {
		return nil, errors.IO(directory, err).
			WithComponent("filestore").
			WithOperation("init")
	}

	s := &FileStore{
		directory: directory,
		logger:    utils.OrNop(config.Logger),
	}
	s.logger.Debug("file store ready", "directory", directory)
	return s, nil
}

// Dir returns the directory holding the cached files.
func (s *FileStore) Dir() string {
	return s.directory
}

// PathFor returns the file that holds key. It does not touch the disk.
func (s *FileStore) PathFor(key types.RequestKey) string {
	return filepath.Join(s.directory, string(key))
}

// Read returns the bytes stored for key. A missing file yields a NOT_FOUND
// error; any other failure yields an IO error.
func (s *FileStore) Read(key types.RequestKey) ([]byte, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			s.misses.Add(1)
			return nil, errors.NotFound(string(key)).WithComponent("filestore")
		}
		return nil, errors.IO(path, err).WithComponent("filestore").WithOperation("read")
	}

	s.hits.Add(1)
	return data, nil
}

// Write stores data for key. The file is written under a temporary name and
// renamed into place, so readers never see a partial file.
func (s *FileStore) Write(key types.RequestKey, data []byte) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.directory, partialPrefix+"*")
	if err != nil {
		return errors.IO(path, err).WithComponent("filestore").WithOperation("write")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.IO(path, err).WithComponent("filestore").WithOperation("write")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.IO(path, err).WithComponent("filestore").WithOperation("write")
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return errors.IO(path, err).WithComponent("filestore").WithOperation("write")
	}

	s.logger.Debug("stored on disk", "key", key, "hashed", key.Hashed(), "bytes", len(data))
	return nil
}

// Remove deletes the file for key. Removing an absent key is not an error.
func (s *FileStore) Remove(key types.RequestKey) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return errors.IO(path, err).WithComponent("filestore").WithOperation("remove")
	}
	return nil
}

// Clear deletes every regular file directly under the store directory.
// Subdirectories are left alone.
func (s *FileStore) Clear() error {
	entries, err := os.ReadDir(s.directory)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return errors.IO(s.directory, err).WithComponent("filestore").WithOperation("clear")
	}

	var firstErr error
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(s.directory, entry.Name())
		if err := os.Remove(path); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
			if firstErr == nil {
				firstErr = errors.IO(path, err).WithComponent("filestore").WithOperation("clear")
			}
			continue
		}
		removed++
	}

	s.logger.Info("disk cache cleared", "directory", s.directory, "files", removed)
	return firstErr
}

// Stats returns disk tier statistics. Size and Entries are measured from the
// directory on each call.
func (s *FileStore) Stats() types.CacheStats {
	stats := types.CacheStats{
		Hits:   s.hits.Load(),
		Misses: s.misses.Load(),
	}

	entries, err := os.ReadDir(s.directory)
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() || strings.HasPrefix(entry.Name(), partialPrefix) {
				continue
			}
			if info, err := entry.Info(); err == nil {
				stats.Entries++
				stats.Size += info.Size()
			}
		}
	}
	stats.ComputeRates()
	return stats
}

// resolve returns the file for key, which must name a file directly inside
// the store directory.
func (s *FileStore) resolve(key types.RequestKey) (string, error) {
	k := string(key)
	path, err := utils.SecureJoin(s.directory, k)
	if err != nil || filepath.Base(path) != k || strings.ContainsRune(k, '\\') {
		return "", errors.NewError(errors.ErrCodeInvalidKey, fmt.Sprintf("key %q is not a valid file name", k)).
			WithComponent("filestore")
	}
	return path, nil
}
