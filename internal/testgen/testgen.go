// Package testgen generates EPUB and CBZ fixtures with configurable
// metadata for exercising the ingestion pipeline in tests.
package testgen

import (
	"os"
	"path/filepath"
	"testing"
)

// EPUBOptions configures the generated EPUB file.
type EPUBOptions struct {
	Title       string
	Author      string
	Description string
	HasCover    bool
	// OmitContainer produces a zip without META-INF/container.xml, which
	// is structurally invalid as an EPUB.
	OmitContainer bool
}

// CBZOptions configures the generated CBZ file.
type CBZOptions struct {
	Title        string
	Series       string
	Number       string
	Writer       string
	Publisher    string
	PageCount    int  // defaults to 3
	HasComicInfo bool // whether to include ComicInfo.xml
	// NoImages produces an archive with no page entries at all.
	NoImages bool
}

// WriteFile creates a file with the given content in the specified
// directory and returns its full path.
func WriteFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("failed to write file %s: %v", path, err)
	}
	return path
}

// WriteJunkFile creates a file that is not a valid archive of any kind.
func WriteJunkFile(t *testing.T, dir, name string) string {
	t.Helper()
	return WriteFile(t, dir, name, []byte("this is not an archive"))
}

// FileExists checks if a file exists at the given path.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// StringPtr is a helper to create a pointer to a string.
func StringPtr(s string) *string {
	return &s
}

// IntPtr is a helper to create a pointer to an int.
func IntPtr(i int) *int {
	return &i
}
