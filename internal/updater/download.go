package updater

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zip"
)

// progressWriter counts bytes into info and reports whenever the percentage
// has advanced by more than one point.
type progressWriter struct {
	info     *Info
	report   Progress
	reported float64
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.info.Downloaded += int64(len(p))
	if w.info.FileSize > 0 {
		w.info.Percent = float64(w.info.Downloaded) / float64(w.info.FileSize) * 100
		if w.info.Percent-w.reported > 1 {
			w.reported = w.info.Percent
			w.report(*w.info)
		}
	}
	return len(p), nil
}

// download streams asset into dir and returns the file path.
func (c *Client) download(ctx context.Context, asset Asset, dir string, info *Info, report Progress) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating cache dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset.URL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading %s: %w", asset.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("downloading %s: %s", asset.Name, resp.Status)
	}

	info.Downloaded = 0
	info.FileSize = resp.ContentLength
	if info.FileSize <= 0 {
		info.FileSize = asset.Size
	}
	report(*info)

	dest := filepath.Join(dir, filepath.Base(asset.Name))
	f, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	pw := &progressWriter{info: info, report: report}
	if _, err := io.Copy(io.MultiWriter(f, pw), resp.Body); err != nil {
		f.Close()
		os.Remove(dest)
		return "", fmt.Errorf("downloading %s: %w", asset.Name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(dest)
		return "", err
	}

	c.logger.Info("download complete", "asset", asset.Name, "size", humanize.Bytes(uint64(info.Downloaded)))
	return dest, nil
}

// extract copies every entry of archive whose name ends in ext into dir,
// flattening directories. It returns the written paths.
func extract(archive, ext, dir string) ([]string, error) {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", filepath.Base(archive), err)
	}
	defer r.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	var written []string
	for _, f := range r.File {
		if f.FileInfo().IsDir() || !strings.HasSuffix(strings.ToLower(f.Name), ext) {
			continue
		}
		// Only the base name is used, so entries cannot escape dir.
		dest := filepath.Join(dir, filepath.Base(filepath.FromSlash(f.Name)))
		if err := extractFile(f, dest); err != nil {
			return written, fmt.Errorf("extracting %s: %w", f.Name, err)
		}
		written = append(written, dest)
	}
	if len(written) == 0 {
		return nil, fmt.Errorf("%s contains no %s files", filepath.Base(archive), ext)
	}
	return written, nil
}

func extractFile(f *zip.File, dest string) error {
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// replaceExecutable moves the running executable aside to exe.old and puts
// replacement in its place. On failure the original is restored.
func replaceExecutable(exe, replacement string) error {
	old := exe + ".old"
	if err := os.Remove(old); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing stale %s: %w", filepath.Base(old), err)
	}
	if err := os.Rename(exe, old); err != nil {
		return fmt.Errorf("moving running executable aside: %w", err)
	}
	if err := moveFile(replacement, exe); err != nil {
		if rerr := os.Rename(old, exe); rerr != nil {
			return errors.Join(err, fmt.Errorf("restoring executable: %w", rerr))
		}
		return err
	}
	return nil
}

// RemoveStale deletes the exe.old left behind by a previous update.
func RemoveStale(exe string) error {
	err := os.Remove(exe + ".old")
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// moveFile renames src to dst, copying when they are on different volumes.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	in.Close()
	return os.Remove(src)
}
