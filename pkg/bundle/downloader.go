package bundle

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// maxDatasetSize bounds a downloaded dataset; the full Oxford list is a few MB.
const maxDatasetSize = 64 * 1024 * 1024

// Ensure checks if the dataset exists at path. If not and url is set, it
// downloads it (gzip is detected by magic bytes), validates that it parses and
// writes it to path atomically.
func Ensure(ctx context.Context, path, url string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	if url == "" {
		return fmt.Errorf("dataset %s missing and no download url configured", path)
	}
	return download(ctx, &http.Client{Timeout: 60 * time.Second}, url, path)
}

func download(ctx context.Context, client *http.Client, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "wordfamily-cli")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed: %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDatasetSize+1))
	if err != nil {
		return fmt.Errorf("read dataset: %w", err)
	}
	if len(body) > maxDatasetSize {
		return fmt.Errorf("dataset exceeds %d bytes", maxDatasetSize)
	}
	if len(body) > 2 && body[0] == 0x1f && body[1] == 0x8b {
		gz, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create gzip reader: %w", err)
		}
		body, err = io.ReadAll(io.LimitReader(gz, maxDatasetSize+1))
		gz.Close()
		if err != nil {
			return fmt.Errorf("decompress dataset: %w", err)
		}
	}
	if _, err := Decode(bytes.NewReader(body)); err != nil {
		return fmt.Errorf("downloaded dataset invalid: %w", err)
	}

	if dir := filepath.Dir(destPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(destPath), "."+strings.TrimSuffix(filepath.Base(destPath), ".json")+"-*.json")
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write to file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), destPath)
}
