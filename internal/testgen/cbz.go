package testgen

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// GenerateCBZ creates a CBZ file at the specified path with the given
// options. The generated archive contains ComicInfo.xml (if requested)
// and numbered page images.
func GenerateCBZ(t *testing.T, dir, filename string, opts CBZOptions) string {
	t.Helper()

	path := filepath.Join(dir, filename)

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create CBZ file: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	defer zw.Close()

	pageCount := opts.PageCount
	if pageCount <= 0 {
		pageCount = 3
	}

	if opts.HasComicInfo {
		comicInfo := generateComicInfo(opts, pageCount)
		if err := writeZipFile(zw, "ComicInfo.xml", []byte(comicInfo)); err != nil {
			t.Fatalf("failed to write ComicInfo.xml: %v", err)
		}
	}

	if opts.NoImages {
		// A lone text entry keeps the archive non-empty but imageless.
		if err := writeZipFile(zw, "readme.txt", []byte("no pages here")); err != nil {
			t.Fatalf("failed to write filler entry: %v", err)
		}
		return path
	}

	for i := 0; i < pageCount; i++ {
		imgData := generateImage(t)
		imgName := fmt.Sprintf("%03d.png", i)
		if err := writeZipFile(zw, imgName, imgData); err != nil {
			t.Fatalf("failed to write page %s: %v", imgName, err)
		}
	}

	return path
}

func generateComicInfo(opts CBZOptions, pageCount int) string {
	var buf bytes.Buffer

	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<ComicInfo>
`)

	if opts.Title != "" {
		buf.WriteString(fmt.Sprintf("  <Title>%s</Title>\n", escapeXML(opts.Title)))
	}
	if opts.Series != "" {
		buf.WriteString(fmt.Sprintf("  <Series>%s</Series>\n", escapeXML(opts.Series)))
	}
	if opts.Number != "" {
		buf.WriteString(fmt.Sprintf("  <Number>%s</Number>\n", escapeXML(opts.Number)))
	}
	if opts.Writer != "" {
		buf.WriteString(fmt.Sprintf("  <Writer>%s</Writer>\n", escapeXML(opts.Writer)))
	}
	if opts.Publisher != "" {
		buf.WriteString(fmt.Sprintf("  <Publisher>%s</Publisher>\n", escapeXML(opts.Publisher)))
	}

	buf.WriteString(fmt.Sprintf("  <PageCount>%d</PageCount>\n", pageCount))
	buf.WriteString("</ComicInfo>")

	return buf.String()
}
