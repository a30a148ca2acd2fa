// Package epub validates EPUB containers and pulls minimal metadata
// seeds out of the package document. Validation is pure: no persistent
// state is read or written.
package epub

import (
	"archive/zip"
	"encoding/xml"
	"io"
	"os"
	"path"
	"strings"

	"github.com/pkg/errors"
)

const (
	ReasonInvalidArchive   = "invalid archive structure"
	ReasonMissingContainer = "invalid container: missing META-INF/container.xml"
	ReasonBadContainer     = "invalid container: malformed container descriptor"
	ReasonMissingPackage   = "invalid container: package document not found"
)

const containerPath = "META-INF/container.xml"

// Validation is the result of structural validation of an EPUB.
type Validation struct {
	Valid  bool
	Reason string
	// Metadata seeds from the package document, when present.
	Title       string
	Author      string
	Description string
	// HasMetadata reports whether the package document carried any of
	// the seeds above.
	HasMetadata bool
	// CoverEntry is the archive path of the manifest's cover image, if
	// one is declared.
	CoverEntry string
}

type container struct {
	XMLName   xml.Name `xml:"container"`
	Rootfiles struct {
		Rootfile []struct {
			FullPath  string `xml:"full-path,attr"`
			MediaType string `xml:"media-type,attr"`
		} `xml:"rootfile"`
	} `xml:"rootfiles"`
}

type packageDoc struct {
	XMLName  xml.Name `xml:"package"`
	Metadata struct {
		Title       []string `xml:"title"`
		Creator     []string `xml:"creator"`
		Description string   `xml:"description"`
		Meta        []struct {
			Name    string `xml:"name,attr"`
			Content string `xml:"content,attr"`
		} `xml:"meta"`
	} `xml:"metadata"`
	Manifest struct {
		Item []struct {
			ID        string `xml:"id,attr"`
			Href      string `xml:"href,attr"`
			MediaType string `xml:"media-type,attr"`
		} `xml:"item"`
	} `xml:"manifest"`
}

// Validate opens an EPUB, requires the container descriptor to exist
// and parse, and extracts title/author/description seeds from the
// package document it points at.
func Validate(filePath string) (*Validation, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()

	stats, err := f.Stat()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	zipReader, err := zip.NewReader(f, stats.Size())
	if err != nil {
		return &Validation{Valid: false, Reason: ReasonInvalidArchive}, nil
	}

	entries := make(map[string]*zip.File, len(zipReader.File))
	for _, file := range zipReader.File {
		entries[file.Name] = file
	}

	containerFile, ok := entries[containerPath]
	if !ok {
		return &Validation{Valid: false, Reason: ReasonMissingContainer}, nil
	}

	cont, err := parseContainer(containerFile)
	if err != nil || len(cont.Rootfiles.Rootfile) == 0 {
		return &Validation{Valid: false, Reason: ReasonBadContainer}, nil
	}

	opfPath := cont.Rootfiles.Rootfile[0].FullPath
	opfFile, ok := entries[opfPath]
	if !ok {
		return &Validation{Valid: false, Reason: ReasonMissingPackage}, nil
	}

	pkg, err := parsePackage(opfFile)
	if err != nil {
		return &Validation{Valid: false, Reason: ReasonMissingPackage}, nil
	}

	v := &Validation{Valid: true}
	if len(pkg.Metadata.Title) > 0 {
		v.Title = strings.TrimSpace(pkg.Metadata.Title[0])
	}
	if len(pkg.Metadata.Creator) > 0 {
		v.Author = strings.TrimSpace(pkg.Metadata.Creator[0])
	}
	v.Description = strings.TrimSpace(pkg.Metadata.Description)
	v.HasMetadata = v.Title != "" || v.Author != "" || v.Description != ""
	v.CoverEntry = resolveCoverEntry(pkg, opfPath)

	return v, nil
}

func parseContainer(file *zip.File) (*container, error) {
	r, err := file.Open()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer r.Close()

	b, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	cont := &container{}
	if err := xml.Unmarshal(b, cont); err != nil {
		return nil, errors.WithStack(err)
	}
	return cont, nil
}

func parsePackage(file *zip.File) (*packageDoc, error) {
	r, err := file.Open()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer r.Close()

	b, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	pkg := &packageDoc{}
	if err := xml.Unmarshal(b, pkg); err != nil {
		return nil, errors.WithStack(err)
	}
	return pkg, nil
}

// resolveCoverEntry finds the manifest item the legacy cover meta points
// at, resolved relative to the package document's directory.
func resolveCoverEntry(pkg *packageDoc, opfPath string) string {
	coverID := ""
	for _, meta := range pkg.Metadata.Meta {
		if meta.Name == "cover" {
			coverID = meta.Content
			break
		}
	}
	if coverID == "" {
		return ""
	}

	for _, item := range pkg.Manifest.Item {
		if item.ID == coverID && strings.HasPrefix(item.MediaType, "image/") {
			return path.Join(path.Dir(opfPath), item.Href)
		}
	}
	return ""
}

// ExtractEntry reads one entry out of an EPUB archive. Used to persist
// the declared cover image as a static asset.
func ExtractEntry(filePath, entryName string) ([]byte, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()

	stats, err := f.Stat()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	zipReader, err := zip.NewReader(f, stats.Size())
	if err != nil {
		return nil, errors.WithStack(err)
	}

	for _, file := range zipReader.File {
		if file.Name != entryName {
			continue
		}
		r, err := file.Open()
		if err != nil {
			return nil, errors.WithStack(err)
		}
		defer r.Close()
		b, err := io.ReadAll(r)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		return b, nil
	}

	return nil, errors.Errorf("entry %q not found in archive", entryName)
}
