package blocklist

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/semihalev/zlog/v2"
)

// maxSourceSize caps a downloaded blocklist.
var maxSourceSize int64 = 64 << 20

type source struct {
	location string
	remote   bool
}

func newSource(location string) source {
	return source{
		location: location,
		remote:   strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://"),
	}
}

// snapshotPath returns the file holding the downloaded copy of a remote source.
func (b *BlockList) snapshotPath(src source) string {
	return filepath.Join(b.opts.Dir, fmt.Sprintf("%016x.hosts", xxhash.Sum64String(src.location)))
}

func (b *BlockList) load(ctx context.Context, src source) (map[string]struct{}, error) {
	if !src.remote {
		data, err := os.ReadFile(src.location)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSourceFetch, err)
		}

		return ParseHosts(bytes.NewReader(data))
	}

	path := b.snapshotPath(src)

	if b.fresh(path) {
		if data, err := os.ReadFile(path); err == nil {
			zlog.Debug("Blocklist using local copy", "source", src.location, "path", path)
			return ParseHosts(bytes.NewReader(data))
		}
	}

	data, err := b.download(ctx, src.location)
	if err != nil {
		// a stale copy is still better than nothing
		if stale, rerr := os.ReadFile(path); rerr == nil {
			zlog.Warn("Blocklist download failed, using stale copy", "source", src.location, "error", err.Error())
			return ParseHosts(bytes.NewReader(stale))
		}

		return nil, err
	}

	if err := writeFile(path, data); err != nil {
		zlog.Warn("Blocklist copy write failed", "path", path, "error", err.Error())
	}

	return ParseHosts(bytes.NewReader(data))
}

// fresh reports whether the file at path was modified within the TTL.
func (b *BlockList) fresh(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}

	return b.clock.Since(info.ModTime()) < b.opts.TTL
}

func (b *BlockList) download(ctx context.Context, uri string) ([]byte, error) {
	zlog.Info("Fetching blocklist", "uri", uri)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceFetch, err)
	}

	resp, err := b.opts.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %s", ErrSourceFetch, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceFetch, err)
	}

	if int64(len(data)) > maxSourceSize {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrSourceFetch, maxSourceSize)
	}

	return data, nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("error creating blocklist directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}
