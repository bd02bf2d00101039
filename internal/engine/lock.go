package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/cargo-flutter/internal/logger"
)

const (
	breakerSuffix = ".break"
	// breakerLifetime bounds a breaker left behind by a crashed process.
	breakerLifetime = time.Minute
)

// fileLock is an exclusive lock file holding the owner's pid.
type fileLock struct {
	path string
}

// acquireLock creates the lock file, waiting while a live owner holds it.
// A lock whose owner is gone, or that is older than lifetime, is removed.
func acquireLock(ctx context.Context, path string, lifetime, poll time.Duration) (*fileLock, error) {
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
			cerr := f.Close()

			if err = errors.Join(werr, cerr); err != nil {
				_ = os.Remove(path)
				return nil, fmt.Errorf("write lock: %w", err)
			}

			return &fileLock{path: path}, nil
		}

		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("create lock: %w", err)
		}

		if isStaleLock(path, lifetime) {
			broken, err := breakStaleLock(path, lifetime)
			if err != nil {
				return nil, err
			}

			if broken {
				logger.InfoKV(ctx, "Removed stale engine lock", "path", path)
				continue
			}
		}

		logger.DebugKV(ctx, "Waiting for engine lock", "path", path)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for lock %s: %w", path, ctx.Err())
		case <-time.After(poll):
		}
	}
}

// breakStaleLock removes the lock at path if it is still stale. Breakers are
// serialized by a second lock file and re-check staleness while holding it,
// so a fresh lock created by a faster waiter is never removed.
func breakStaleLock(path string, lifetime time.Duration) (bool, error) {
	breaker := path + breakerSuffix

	f, err := os.OpenFile(breaker, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, fs.ErrExist) {
		// Another waiter is breaking the lock. A breaker left by a crash expires.
		if info, statErr := os.Stat(breaker); statErr == nil && time.Since(info.ModTime()) > breakerLifetime {
			_ = os.Remove(breaker)
		}

		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("create lock breaker: %w", err)
	}

	_ = f.Close()

	defer func() { _ = os.Remove(breaker) }()

	if !isStaleLock(path, lifetime) {
		return false, nil
	}

	if err = os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("remove stale lock: %w", err)
	}

	return true, nil
}

// release removes the lock file.
func (l *fileLock) release() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	return nil
}

// isStaleLock reports whether the lock owner is gone or the lock outlived its lifetime.
func isStaleLock(path string, lifetime time.Duration) bool {
	info, err := os.Stat(path)
	if err != nil {
		// Vanished between the create attempt and now: let the caller retry.
		return false
	}

	if time.Since(info.ModTime()) > lifetime {
		return true
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		return false
	}

	firstLine, _, _ := strings.Cut(string(contents), "\n")

	pid, err := strconv.Atoi(strings.TrimSpace(firstLine))
	if err != nil {
		// Owner is still writing the pid.
		return false
	}

	return !processAlive(pid)
}

// processAlive reports whether a process with the pid exists.
func processAlive(pid int) bool {
	if pid == os.Getpid() {
		return true
	}

	process, err := ps.FindProcess(pid)
	if err != nil {
		// Unable to tell: assume alive and let the lifetime expire the lock.
		return true
	}

	return process != nil
}
