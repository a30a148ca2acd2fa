// Package cbz validates comic archives (CBZ and, through a RAR listing
// adapter, CBR). Validation is pure: it inspects the container and
// reports on it without touching any persistent state.
package cbz

import (
	"archive/zip"
	"encoding/xml"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nwaples/rardecode/v2"
	"github.com/pkg/errors"
)

const (
	ReasonInvalidArchive = "invalid archive structure"
	ReasonNoImages       = "no image files found"
)

// Validation is the result of structural validation of a comic archive.
type Validation struct {
	Valid      bool
	Reason     string
	ImageCount int
	// FirstImage is the entry name of the first image in sort order,
	// the cover candidate.
	FirstImage string
	// HasComicInfo reports whether a ComicInfo.xml sidecar is present.
	HasComicInfo bool
	// ComicInfo holds the parsed sidecar when present.
	ComicInfo *ComicInfo
}

// ComicInfo is the subset of the ComicInfo.xml sidecar schema used to
// seed bibliographic fields before enrichment.
type ComicInfo struct {
	XMLName   xml.Name `xml:"ComicInfo"`
	Title     string   `xml:"Title"`
	Series    string   `xml:"Series"`
	Number    string   `xml:"Number"`
	Writer    string   `xml:"Writer"`
	Publisher string   `xml:"Publisher"`
	Genre     string   `xml:"Genre"`
}

var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".webp": {},
}

func isImageEntry(name string) bool {
	_, ok := imageExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Validate opens a CBZ as a zip archive and reports structural validity,
// image count, the cover candidate, and sidecar metadata presence.
func Validate(path string) (*Validation, error) {
	f, err := os.Open(path)
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

	var names []string
	var comicInfo *ComicInfo
	for _, file := range zipReader.File {
		if strings.EqualFold(filepath.Base(file.Name), "comicinfo.xml") {
			r, err := file.Open()
			if err != nil {
				return nil, errors.WithStack(err)
			}
			comicInfo, err = parseComicInfo(r)
			if err != nil {
				// A malformed sidecar doesn't make the archive invalid;
				// the pages are still readable.
				comicInfo = nil
			}
			continue
		}
		if isImageEntry(file.Name) {
			names = append(names, file.Name)
		}
	}

	return validationFromEntries(names, comicInfo), nil
}

// ValidateCBR lists a CBR through the RAR adapter and applies the same
// entry checks as Validate.
func ValidateCBR(path string) (*Validation, error) {
	rc, err := rardecode.OpenReader(path)
	if err != nil {
		return &Validation{Valid: false, Reason: ReasonInvalidArchive}, nil
	}
	defer rc.Close()

	var names []string
	var comicInfo *ComicInfo
	for {
		header, err := rc.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return &Validation{Valid: false, Reason: ReasonInvalidArchive}, nil
		}
		if header.IsDir {
			continue
		}
		if strings.EqualFold(filepath.Base(header.Name), "comicinfo.xml") {
			ci, err := parseComicInfo(io.NopCloser(rc))
			if err == nil {
				comicInfo = ci
			}
			continue
		}
		if isImageEntry(header.Name) {
			names = append(names, header.Name)
		}
	}

	return validationFromEntries(names, comicInfo), nil
}

func validationFromEntries(names []string, comicInfo *ComicInfo) *Validation {
	if len(names) == 0 {
		return &Validation{Valid: false, Reason: ReasonNoImages, HasComicInfo: comicInfo != nil, ComicInfo: comicInfo}
	}

	// Sort entry names so the cover candidate is deterministic across
	// archives that list pages out of order.
	sort.Strings(names)

	return &Validation{
		Valid:        true,
		ImageCount:   len(names),
		FirstImage:   names[0],
		HasComicInfo: comicInfo != nil,
		ComicInfo:    comicInfo,
	}
}

func parseComicInfo(r io.ReadCloser) (*ComicInfo, error) {
	defer r.Close()

	b, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	comicInfo := &ComicInfo{}
	err = xml.Unmarshal(b, comicInfo)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return comicInfo, nil
}

// ExtractImage reads a single image entry out of a CBZ. Used to persist
// the cover candidate as a static asset.
func ExtractImage(path, entryName string) ([]byte, error) {
	f, err := os.Open(path)
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
