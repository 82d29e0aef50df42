package firmware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// CacheMeta is the JSON sidecar written next to every cached firmware
// file, per spec.md §6's persisted-state layout.
type CacheMeta struct {
	Source       Source    `json:"source"`
	Board        string    `json:"board"`
	Version      string    `json:"version"`
	SHA256       string    `json:"sha256"`
	Size         int64     `json:"size"`
	DownloadedAt time.Time `json:"downloadedAt"`
}

// Cache is the content-addressed firmware download cache:
// <root>/<source>/<board>/<version>/<sha256>.bin plus a sibling .meta
// JSON file.
type Cache struct {
	root   string
	client *http.Client
}

// NewCache roots the cache at dir. Nothing is created on disk here;
// Download creates the directories it writes into.
func NewCache(dir string, client *http.Client) *Cache {
	if client == nil {
		client = http.DefaultClient
	}
	return &Cache{root: dir, client: client}
}

// ProgressFunc reports bytesWritten/totalBytes during a download; total
// is the response's Content-Length, or the version's FileSize when the
// server didn't send one.
type ProgressFunc func(bytesWritten, totalBytes int64)

// Download streams v's file into the cache, returning its on-disk path.
// If expectedSHA256 is non-empty and a file with the same (source, board,
// version) and that sha256 is already cached, it's returned without a
// network request. With an empty expectedSHA256 the cache is not
// consulted and the file is always downloaded.
func (c *Cache) Download(ctx context.Context, source Source, board, version string, v FirmwareVersion, expectedSHA256 string, onProgress ProgressFunc) (string, error) {
	dir := filepath.Join(c.root, string(source), sanitizeComponent(board), sanitizeComponent(version))
	if expectedSHA256 != "" {
		path := filepath.Join(dir, expectedSHA256+".bin")
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("firmware: create cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "download-*.tmp")
	if err != nil {
		return "", fmt.Errorf("firmware: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.DownloadURL, nil)
	if err != nil {
		tmp.Close()
		return "", err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		tmp.Close()
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		tmp.Close()
		return "", fmt.Errorf("firmware: download %s: http %d", v.DownloadURL, resp.StatusCode)
	}

	total := resp.ContentLength
	if total < 0 {
		total = v.FileSize
	}

	hasher := sha256.New()
	written, err := copyWithProgress(tmp, io.TeeReader(resp.Body, hasher), total, onProgress)
	tmp.Close()
	if err != nil {
		return "", fmt.Errorf("firmware: download body: %w", err)
	}
	if total > 0 && written != total {
		return "", fmt.Errorf("firmware: downloaded %d bytes, manifest said %d", written, total)
	}

	sum := hex.EncodeToString(hasher.Sum(nil))
	if expectedSHA256 != "" && sum != expectedSHA256 {
		return "", fmt.Errorf("firmware: sha256 mismatch: got %s, want %s", sum, expectedSHA256)
	}

	finalPath := filepath.Join(dir, sum+".bin")
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("firmware: finalize cache file: %w", err)
	}

	meta := CacheMeta{
		Source:       source,
		Board:        board,
		Version:      version,
		SHA256:       sum,
		Size:         written,
		DownloadedAt: time.Now(),
	}
	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return finalPath, nil
	}
	_ = os.WriteFile(filepath.Join(dir, sum+".meta"), metaBytes, 0o644)

	return finalPath, nil
}

func copyWithProgress(dst io.Writer, src io.Reader, total int64, onProgress ProgressFunc) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return written, werr
			}
			written += int64(n)
			if onProgress != nil {
				onProgress(written, total)
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// ReadMeta loads the sidecar for a cached file path (e.g.
// ".../<sha>.bin" -> ".../<sha>.meta").
func ReadMeta(binPath string) (*CacheMeta, error) {
	metaPath := binPath[:len(binPath)-len(filepath.Ext(binPath))] + ".meta"
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, err
	}
	var meta CacheMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func sanitizeComponent(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
