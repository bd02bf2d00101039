package engine

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"

	"github.com/oshokin/cargo-flutter/internal/logger"
	"github.com/oshokin/cargo-flutter/internal/version"
)

// Fetcher downloads engine builds.
type Fetcher interface {
	// Fetch writes the files of the engine build into dir.
	Fetch(ctx context.Context, key Key, dir string) error
	// LatestVersion asks the remote side for the newest engine version.
	LatestVersion(ctx context.Context) (string, error)
}

// checksumSuffix is appended to the archive path to locate its checksum.
const checksumSuffix = ".sha512"

var (
	errBadHTTPStatus       = errors.New("unexpected http status")
	errUnsafeArchivePath   = errors.New("archive entry escapes destination")
	errUnsupportedArchive  = errors.New("unsupported archive format")
	errEmptyLatestVersion  = errors.New("empty latest version response")
	errMalformedChecksum   = errors.New("malformed checksum file")
	errArchiveChecksum     = errors.New("archive checksum mismatch")
	errLatestURLNotDefined = errors.New("latest version url not configured")
)

// HTTPFetcher downloads engine archives over HTTP.
type HTTPFetcher struct {
	client      *http.Client
	urlTemplate string
	latestURL   string
}

// NewHTTPFetcher creates a fetcher. urlTemplate may contain the {version},
// {triple} and {profile} placeholders. A nil client means http.DefaultClient.
func NewHTTPFetcher(client *http.Client, urlTemplate, latestURL string) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}

	return &HTTPFetcher{
		client:      client,
		urlTemplate: urlTemplate,
		latestURL:   latestURL,
	}
}

// URL expands the template for a key.
func (f *HTTPFetcher) URL(key Key) string {
	return strings.NewReplacer(
		"{version}", key.Version,
		"{triple}", key.Triple,
		"{profile}", key.Profile.String(),
	).Replace(f.urlTemplate)
}

// Fetch downloads the archive next to dir, verifies it against an optional
// .sha512 sidecar and unpacks it into dir.
func (f *HTTPFetcher) Fetch(ctx context.Context, key Key, dir string) error {
	archiveURL := f.URL(key)

	name, checksumURL, err := archiveLocations(archiveURL)
	if err != nil {
		return err
	}

	logger.InfoKV(ctx, "Downloading engine", "url", archiveURL)

	archive, err := os.CreateTemp(filepath.Dir(dir), ".download-*")
	if err != nil {
		return fmt.Errorf("create download file: %w", err)
	}

	defer func() {
		_ = archive.Close()
		_ = os.Remove(archive.Name())
	}()

	hasher := checksumFunction.New()

	if err = f.download(ctx, archiveURL, io.MultiWriter(archive, hasher)); err != nil {
		return err
	}

	if err = f.verifySidecar(ctx, checksumURL, hasher.Sum(nil)); err != nil {
		return err
	}

	if _, err = archive.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind download: %w", err)
	}

	return unpack(archive, name, dir)
}

// archiveLocations returns the archive file name and the URL of its
// ".sha512" sidecar. Both work on the URL path so a query string is kept intact.
func archiveLocations(archiveURL string) (string, string, error) {
	u, err := url.Parse(archiveURL)
	if err != nil {
		return "", "", fmt.Errorf("parse engine url: %w", err)
	}

	name := path.Base(u.Path)

	u.Path += checksumSuffix
	if u.RawPath != "" {
		u.RawPath += checksumSuffix
	}

	return name, u.String(), nil
}

// LatestVersion reads the newest engine version from the latest version URL.
func (f *HTTPFetcher) LatestVersion(ctx context.Context) (string, error) {
	if f.latestURL == "" {
		return "", errLatestURLNotDefined
	}

	var body strings.Builder
	if err := f.download(ctx, f.latestURL, &body); err != nil {
		return "", err
	}

	latest := strings.TrimSpace(body.String())
	if latest == "" {
		return "", errEmptyLatestVersion
	}

	return latest, nil
}

// download streams a URL into w.
func (f *HTTPFetcher) download(ctx context.Context, rawURL string, w io.Writer) error {
	response, err := f.get(ctx, rawURL)
	if err != nil {
		return err
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("%s, %s: %w", rawURL, response.Status, errBadHTTPStatus)
	}

	if _, err = io.Copy(w, response.Body); err != nil {
		return fmt.Errorf("download %s: %w", rawURL, err)
	}

	return nil
}

// verifySidecar compares the archive checksum with the sidecar when the server has one.
func (f *HTTPFetcher) verifySidecar(ctx context.Context, checksumURL string, got []byte) error {
	response, err := f.get(ctx, checksumURL)
	if err != nil {
		return err
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode == http.StatusNotFound {
		logger.DebugKV(ctx, "No checksum published for engine archive", "url", checksumURL)
		return nil
	}

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("%s, %s: %w", checksumURL, response.Status, errBadHTTPStatus)
	}

	line, err := bufio.NewReader(io.LimitReader(response.Body, 1024)).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read checksum: %w", err)
	}

	// sha512sum format: "<hex>  <filename>".
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return errMalformedChecksum
	}

	want, err := hex.DecodeString(fields[0])
	if err != nil {
		return fmt.Errorf("%w: %w", errMalformedChecksum, err)
	}

	if !bytes.Equal(want, got) {
		return fmt.Errorf("%s: %w", checksumURL, errArchiveChecksum)
	}

	return nil
}

func (f *HTTPFetcher) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", version.UserAgent())

	response, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", rawURL, err)
	}

	return response, nil
}

// unpack extracts a tar archive, optionally xz or gzip compressed, into dir.
func unpack(r io.Reader, name, dir string) error {
	var (
		tarReader *tar.Reader
		lower     = strings.ToLower(name)
	)

	switch {
	case strings.HasSuffix(lower, ".tar.xz"), strings.HasSuffix(lower, ".txz"):
		xzReader, err := xz.NewReader(bufio.NewReader(r))
		if err != nil {
			return fmt.Errorf("creating xz reader: %w", err)
		}

		tarReader = tar.NewReader(xzReader)
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		gzReader, err := gzip.NewReader(r)
		if err != nil {
			return fmt.Errorf("creating gzip reader: %w", err)
		}

		defer func() {
			_ = gzReader.Close()
		}()

		tarReader = tar.NewReader(gzReader)
	case strings.HasSuffix(lower, ".tar"):
		tarReader = tar.NewReader(r)
	default:
		return fmt.Errorf("%s: %w", name, errUnsupportedArchive)
	}

	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("reading tar entry: %w", err)
		}

		if err = extractEntry(tarReader, header, dir); err != nil {
			return err
		}
	}
}

// extractEntry writes one tar entry below dir. Links and special files are skipped.
func extractEntry(r io.Reader, header *tar.Header, dir string) error {
	cleanPath := strings.TrimPrefix(header.Name, "./")
	if cleanPath == "" || cleanPath == "." {
		return nil
	}

	if !filepath.IsLocal(filepath.FromSlash(cleanPath)) {
		return fmt.Errorf("%s: %w", header.Name, errUnsafeArchivePath)
	}

	targetPath := filepath.Join(dir, filepath.FromSlash(cleanPath))

	switch header.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(targetPath, fileMode); err != nil {
			return fmt.Errorf("creating directory %s: %w", targetPath, err)
		}
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(targetPath), fileMode); err != nil {
			return fmt.Errorf("creating parent directory: %w", err)
		}

		mode := fs.FileMode(header.Mode).Perm() | 0o600 //nolint:gosec // Tar modes fit in 32 bits.

		out, err := os.OpenFile(targetPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
		if err != nil {
			return fmt.Errorf("creating file %s: %w", targetPath, err)
		}

		_, werr := io.Copy(out, r) //nolint:gosec // Engine archives come from a configured, checksummed source.
		cerr := out.Close()

		if err = errors.Join(werr, cerr); err != nil {
			return fmt.Errorf("writing file %s: %w", targetPath, err)
		}
	}

	return nil
}
