package engine

import (
	"bytes"
	"context"
	"crypto"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	goupdate "github.com/doitdistributed/go-update"
	"gopkg.in/yaml.v3"

	"github.com/oshokin/cargo-flutter/internal/logger"

	// Ensure SHA512 available for checksum calculation.
	_ "crypto/sha512"
)

const (
	// metaFilename is the commit marker of a store entry, written last.
	metaFilename = "entry.yaml"

	// checksumFunction hashes every published file.
	checksumFunction crypto.Hash = crypto.SHA512

	// defaultLockLifetime is the period after which a lock is considered abandoned.
	defaultLockLifetime = 30 * time.Minute

	// defaultPollInterval is how often a waiting process re-checks a held lock.
	defaultPollInterval = 500 * time.Millisecond

	// stagingDirname holds in-progress downloads on the same filesystem as the entries.
	stagingDirname = ".staging"

	fileMode os.FileMode = 0o755
)

var (
	errHashUnavailable = errors.New("hash function unavailable")
	errLibraryMissing  = errors.New("engine library missing from fetched files")
	errKeyMismatch     = errors.New("entry metadata does not match key")
	errChecksum        = errors.New("checksum mismatch")
)

// entryMeta is the content of the commit marker.
type entryMeta struct {
	// Version, Triple and Profile repeat the key for integrity checks.
	Version string `yaml:"version"`
	Triple  string `yaml:"triple"`
	Profile string `yaml:"profile"`
	// Files maps entry-relative paths to base64-encoded checksums.
	Files map[string]string `yaml:"files"`
	// PublishedAt is when the entry was committed.
	PublishedAt time.Time `yaml:"published_at"`
}

// FillFunc writes the files of an engine build into dir.
type FillFunc func(ctx context.Context, dir string) error

// Store is a version-addressed engine cache rooted at a directory.
type Store struct {
	root         string
	lockLifetime time.Duration
	pollInterval time.Duration
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLockLifetime sets how long a lock may be held before it is considered abandoned.
func WithLockLifetime(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.lockLifetime = d
		}
	}
}

// WithPollInterval sets how often a waiting process re-checks a held lock.
func WithPollInterval(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// NewStore creates a store rooted at root.
func NewStore(root string, opts ...StoreOption) *Store {
	s := &Store{
		root:         filepath.Clean(root),
		lockLifetime: defaultLockLifetime,
		pollInterval: defaultPollInterval,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Root returns the store root directory.
func (s *Store) Root() string {
	return s.root
}

// EntryDir returns the directory of an entry. It does no I/O.
func (s *Store) EntryDir(key Key) string {
	return filepath.Join(s.root, key.Version, key.Triple, key.Profile.String())
}

// LibraryPath returns the engine library path of an entry. It does no I/O.
func (s *Store) LibraryPath(key Key) string {
	return filepath.Join(s.EntryDir(key), LibraryName(key.Triple))
}

// Has reports whether a committed, intact entry exists for the key.
func (s *Store) Has(key Key) bool {
	return s.verify(key) == nil
}

// Ensure returns the library path of the entry, filling and publishing it
// first when it is absent or damaged. fill runs at most once per call and
// only while holding the entry lock.
func (s *Store) Ensure(ctx context.Context, key Key, fill FillFunc) (string, error) {
	if err := key.validate(); err != nil {
		return "", err
	}

	path := s.LibraryPath(key)

	if s.Has(key) {
		logger.DebugKV(ctx, "Engine cache hit", "key", key.String())
		return path, nil
	}

	entryDir := s.EntryDir(key)
	if err := os.MkdirAll(filepath.Dir(entryDir), fileMode); err != nil {
		return "", fmt.Errorf("create store directory: %w", err)
	}

	lock, err := acquireLock(ctx, entryDir+".lock", s.lockLifetime, s.pollInterval)
	if err != nil {
		return "", err
	}

	defer func() {
		if rerr := lock.release(); rerr != nil {
			logger.WarnKV(ctx, "Unable to release engine lock", "error", rerr)
		}
	}()

	// Another process may have published the entry while we waited.
	if s.Has(key) {
		logger.DebugKV(ctx, "Engine published by another process", "key", key.String())
		return path, nil
	}

	if err = s.fillAndPublish(ctx, key, fill); err != nil {
		return "", err
	}

	return path, nil
}

// fillAndPublish stages the entry files and commits them.
func (s *Store) fillAndPublish(ctx context.Context, key Key, fill FillFunc) error {
	stagingRoot := filepath.Join(s.root, stagingDirname)
	if err := os.MkdirAll(stagingRoot, fileMode); err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}

	staging, err := os.MkdirTemp(stagingRoot, "engine-")
	if err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}

	defer func() {
		_ = os.RemoveAll(staging)
	}()

	if err = fill(ctx, staging); err != nil {
		return err
	}

	if _, err = os.Stat(filepath.Join(staging, LibraryName(key.Triple))); err != nil {
		return fmt.Errorf("%s: %w", LibraryName(key.Triple), errLibraryMissing)
	}

	return s.publish(ctx, key, staging)
}

// publish moves staged files into the entry and writes the commit marker last.
func (s *Store) publish(ctx context.Context, key Key, staging string) error {
	entryDir := s.EntryDir(key)

	// A damaged entry loses its marker first so no reader trusts it mid-update.
	if err := os.Remove(filepath.Join(entryDir, metaFilename)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("invalidate entry: %w", err)
	}

	meta := &entryMeta{
		Version: key.Version,
		Triple:  key.Triple,
		Profile: key.Profile.String(),
		Files:   make(map[string]string),
	}

	err := filepath.WalkDir(staging, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(staging, path)
		if err != nil {
			return err
		}

		checksum, err := publishFile(path, filepath.Join(entryDir, rel))
		if err != nil {
			return fmt.Errorf("publish %s: %w", rel, err)
		}

		meta.Files[filepath.ToSlash(rel)] = base64.StdEncoding.EncodeToString(checksum)

		return nil
	})
	if err != nil {
		return err
	}

	meta.PublishedAt = time.Now().UTC()

	if err = writeMeta(filepath.Join(entryDir, metaFilename), meta); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Engine published", "key", key.String(), "files", len(meta.Files))

	return nil
}

// publishFile atomically replaces target with the contents of source,
// verifying the written bytes against the source checksum.
func publishFile(source, target string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Clean(source))
	if err != nil {
		return nil, err
	}

	checksum, err := sum(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	if err = os.MkdirAll(filepath.Dir(target), fileMode); err != nil {
		return nil, err
	}

	// go-update renames the existing target away before moving the new file in.
	if _, err = os.Stat(target); errors.Is(err, fs.ErrNotExist) {
		placeholder, cerr := os.Create(target)
		if cerr != nil {
			return nil, cerr
		}

		if cerr = placeholder.Close(); cerr != nil {
			return nil, cerr
		}
	}

	options := goupdate.Options{
		TargetPath: target,
		TargetMode: fileMode,
		Checksum:   checksum,
		Hash:       checksumFunction,
	}

	if err = goupdate.Apply(bytes.NewReader(data), options); err != nil {
		return nil, err
	}

	return checksum, nil
}

// writeMeta writes the commit marker through a temporary file and a rename.
func writeMeta(path string, meta *entryMeta) error {
	contents, err := yaml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal entry metadata: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+metaFilename+"-*")
	if err != nil {
		return fmt.Errorf("create entry metadata: %w", err)
	}

	_, werr := tmp.Write(contents)
	cerr := tmp.Close()

	if err = errors.Join(werr, cerr); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write entry metadata: %w", err)
	}

	if err = os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("commit entry: %w", err)
	}

	return nil
}

// verify checks the commit marker against the key and the files on disk.
func (s *Store) verify(key Key) error {
	entryDir := s.EntryDir(key)

	contents, err := os.ReadFile(filepath.Join(entryDir, metaFilename))
	if err != nil {
		return err
	}

	var meta entryMeta
	if err = yaml.Unmarshal(contents, &meta); err != nil {
		return err
	}

	if meta.Version != key.Version || meta.Triple != key.Triple || meta.Profile != key.Profile.String() {
		return errKeyMismatch
	}

	if _, ok := meta.Files[LibraryName(key.Triple)]; !ok {
		return errLibraryMissing
	}

	for rel, want := range meta.Files {
		got, err := fileChecksum(filepath.Join(entryDir, filepath.FromSlash(rel)))
		if err != nil {
			return err
		}

		if base64.StdEncoding.EncodeToString(got) != want {
			return fmt.Errorf("%s: %w", rel, errChecksum)
		}
	}

	return nil
}

// fileChecksum returns the checksum of a file.
func fileChecksum(path string) ([]byte, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = f.Close()
	}()

	return sum(f)
}

func sum(r io.Reader) ([]byte, error) {
	if !checksumFunction.Available() {
		return nil, fmt.Errorf("checksum calculation not possible: %w", errHashUnavailable)
	}

	hasher := checksumFunction.New()
	if _, err := io.Copy(hasher, r); err != nil {
		return nil, fmt.Errorf("calculate checksum: %w", err)
	}

	return hasher.Sum(nil), nil
}
