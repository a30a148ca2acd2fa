package metadata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
)

// maxCoverBytes caps cover downloads so a misbehaving catalog can't
// fill the asset directory.
const maxCoverBytes = 10 << 20

// downloadCover fetches a cover image and writes it under the asset
// directory as covers/<contentID>.<ext>, returning the written path.
func downloadCover(ctx context.Context, client *http.Client, coverURL, assetDir string, contentID int) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, coverURL, nil)
	if err != nil {
		return "", errors.WithStack(err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", errors.WithStack(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.WithStack(&StatusError{Code: resp.StatusCode})
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxCoverBytes))
	if err != nil {
		return "", errors.WithStack(err)
	}

	mime := mimetype.Detect(b)
	if !strings.HasPrefix(mime.String(), "image/") {
		return "", errors.Errorf("cover URL returned %s, not an image", mime.String())
	}

	dir := filepath.Join(assetDir, "covers")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.WithStack(err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%d%s", contentID, mime.Extension()))
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return "", errors.WithStack(err)
	}

	return path, nil
}

// WriteCoverBytes persists an image extracted from an archive as the
// record's cover asset. Used by ingestion for embedded cover seeds.
func WriteCoverBytes(assetDir string, contentID int, b []byte) (string, error) {
	mime := mimetype.Detect(b)
	if !strings.HasPrefix(mime.String(), "image/") {
		return "", errors.Errorf("archive entry is %s, not an image", mime.String())
	}

	dir := filepath.Join(assetDir, "covers")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.WithStack(err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%d%s", contentID, mime.Extension()))
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return "", errors.WithStack(err)
	}

	return path, nil
}
