// Package filecache stores response bodies on disk, addressed by their blake3
// hash. Identical bodies are stored once, whatever generation references them.
package filecache

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/zeebo/blake3"

	"github.com/benjaminschubert/receiptcache/internal/teereader"
)

var (
	ErrInitialize = errors.New("unable to initialize cache")
	ErrCannotOpen = errors.New("unable to open cached file")
	ErrIncomplete = errors.New("body was not read entirely")
)

type FileCache struct {
	root   string
	tmpdir string
}

func NewFileCache(root string) (*FileCache, error) {
	tmpdir := path.Join(root, "_tmp")

	// Ensure the tempdir exists
	if err := os.MkdirAll(tmpdir, 0o750); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInitialize, err)
	}

	tmpdirFiles, err := os.ReadDir(tmpdir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInitialize, err)
	}

	for _, file := range tmpdirFiles {
		err = os.RemoveAll(path.Join(tmpdir, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInitialize, err)
		}
	}

	for i := range int64(16 * 16) {
		err = os.Mkdir(path.Join(root, fmt.Sprintf("%02x", i)), 0o750)
		if err != nil && !os.IsExist(err) {
			return nil, fmt.Errorf("%w: %w", ErrInitialize, err)
		}
	}

	return &FileCache{root, tmpdir}, nil
}

func (f *FileCache) pathFor(hash string) (string, error) {
	if len(hash) < 3 || strings.ContainsAny(hash, `/\.`) {
		return "", fmt.Errorf("invalid hash %q: %w", hash, fs.ErrNotExist)
	}
	return path.Join(f.root, hash[:2], hash[2:]), nil
}

// SetupIngestion returns a reader that yields src while writing it to the
// cache. onIngest is only called once the body has been read to the end and
// closed; partial or failed reads are discarded.
func (f *FileCache) SetupIngestion(
	src io.ReadCloser,
	onIngest func(hash string, size int64) error,
	logger *zerolog.Logger,
) io.ReadCloser {
	dest, err := os.CreateTemp(f.tmpdir, "ingest-XXX")
	if err != nil {
		logger.Error().Err(err).Msg("Unable to create temporary file")
		return src
	}

	hasher := blake3.New()

	return teereader.New(
		src,
		io.MultiWriter(dest, hasher),
		func(res teereader.Result) error {
			if res.ReadErr != nil || res.WriteErr != nil || !res.Complete {
				err := res.ReadErr
				reason := "Read Error"
				if res.WriteErr != nil {
					err = res.WriteErr
					reason = "Write Error"
				} else if err == nil {
					err = ErrIncomplete
					reason = "Incomplete"
				}

				logger.Debug().
					Str("reason", reason).
					Err(err).
					Msg("not ingesting the file")
				return f.cleanup(src, dest, logger)
			}

			hash := hex.EncodeToString(hasher.Sum(nil))
			if err := f.commit(dest, hash); err != nil {
				logger.Error().Err(err).Msg("unable to commit file for ingestion")
				return f.cleanup(src, dest, logger)
			}

			return errors.Join(onIngest(hash, res.TotalRead), src.Close())
		},
	)
}

// Ingest stores the whole content of src and returns its hash.
func (f *FileCache) Ingest(src io.Reader) (hash string, size int64, err error) {
	dest, err := os.CreateTemp(f.tmpdir, "ingest-XXX")
	if err != nil {
		return "", 0, fmt.Errorf("unable to create temporary file: %w", err)
	}

	hasher := blake3.New()
	size, err = io.Copy(io.MultiWriter(dest, hasher), src)
	if err != nil {
		return "", 0, errors.Join(err, dest.Close(), os.Remove(dest.Name()))
	}

	hash = hex.EncodeToString(hasher.Sum(nil))
	if err := f.commit(dest, hash); err != nil {
		return "", 0, errors.Join(err, os.Remove(dest.Name()))
	}
	return hash, size, nil
}

func (f *FileCache) commit(dest *os.File, hash string) error {
	if err := dest.Close(); err != nil {
		return err
	}

	target, err := f.pathFor(hash)
	if err != nil {
		return err
	}
	return os.Rename(dest.Name(), target)
}

func (f *FileCache) cleanup(src io.ReadCloser, dest *os.File, logger *zerolog.Logger) error {
	if e := dest.Close(); e != nil && !errors.Is(e, os.ErrClosed) {
		logger.Error().Err(e).Msg("error closing temporary file.")
	}
	if e := os.Remove(dest.Name()); e != nil && !errors.Is(e, fs.ErrNotExist) {
		logger.Error().Err(e).Msg("error removing temporary file.")
	}

	return src.Close()
}

func (f *FileCache) Open(hash string, logger *zerolog.Logger) (*os.File, error) {
	target, err := f.pathFor(hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCannotOpen, err)
	}

	fp, err := os.Open(target) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCannotOpen, err)
	}
	if err := os.Chtimes(fp.Name(), time.Time{}, time.Now()); err != nil {
		logger.Warn().Err(err).Msg("unable to update mtime for cached file")
	}
	return fp, nil
}

func (f *FileCache) Stat(hash string) (fs.FileInfo, error) {
	target, err := f.pathFor(hash)
	if err != nil {
		return nil, err
	}
	return os.Stat(target)
}

func (f *FileCache) Remove(hash string) error {
	target, err := f.pathFor(hash)
	if err != nil {
		return err
	}
	return os.Remove(target)
}

func (f *FileCache) GetAllHashes() ([]string, error) {
	files, err := filepath.Glob(path.Join(f.root, "[0-9a-f][0-9a-f]", "*"))
	if err != nil {
		return nil, err
	}

	hashes := make([]string, 0, len(files))
	for _, file := range files {
		dir, name := path.Split(file)
		hashes = append(hashes, path.Base(dir)+name)
	}
	return hashes, nil
}

// GetStatistics returns the number of files and their total size.
func (f *FileCache) GetStatistics() (count, totalSize int64, err error) {
	hashes, err := f.GetAllHashes()
	if err != nil {
		return 0, 0, err
	}

	for _, hash := range hashes {
		stat, err := f.Stat(hash)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return 0, 0, err
		}
		count++
		totalSize += stat.Size()
	}

	return count, totalSize, nil
}
