package models

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

const (
	FileTypeEPUB = "epub"
	FileTypeCBZ  = "cbz"
	FileTypeCBR  = "cbr"
)

const (
	ContentKindBook  = "book"
	ContentKindComic = "comic"
)

const (
	ContentStatusPending    = "pending"
	ContentStatusEnriched   = "enriched"
	ContentStatusQuarantine = "quarantine"
)

const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// AuthorUnknown marks an enriched record whose catalog match carried no
// author information.
const AuthorUnknown = "Unknown"

// Content represents one physical file in the library and its
// bibliographic state. The filepath is globally unique; it's the
// backstop against duplicate records when the watcher and a manual scan
// race on the same file.
type Content struct {
	bun.BaseModel `bun:"table:contents,alias:c"`

	ID        int       `bun:",pk,nullzero" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Filepath string `bun:",nullzero" json:"filepath"`
	FileType string `bun:",nullzero" json:"file_type"`
	Kind     string `bun:",nullzero" json:"kind"`

	Title        string   `bun:",nullzero" json:"title"`
	Author       *string  `json:"author"`
	Description  *string  `json:"description"`
	Genres       []string `bun:",json_use_json" json:"genres"`
	SeriesName   *string  `json:"series_name"`
	SeriesVolume *string  `json:"series_volume"`
	ISBN         *string  `json:"isbn"`
	Publisher    *string  `json:"publisher"`
	Language     *string  `json:"language"`
	PublishedAt  *string  `json:"published_at"`

	CoverImagePath      *string `json:"cover_image_path"`
	HasEmbeddedMetadata bool    `json:"has_embedded_metadata"`
	ImageCount          *int    `json:"image_count"`

	Status           string  `bun:",nullzero" json:"status"`
	QuarantineReason *string `json:"quarantine_reason"`
	Visibility       string  `bun:",nullzero" json:"visibility"`
}

// IsPublic reports whether non-admin users may read this record.
func (c *Content) IsPublic() bool {
	return c.Visibility == VisibilityPublic
}

var supportedExtensions = map[string]string{
	".epub": FileTypeEPUB,
	".cbz":  FileTypeCBZ,
	".cbr":  FileTypeCBR,
}

// SupportedExtensions returns the closed set of file extensions the
// pipeline ingests, dot included.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(supportedExtensions))
	for ext := range supportedExtensions {
		exts = append(exts, ext)
	}
	return exts
}

// FileTypeForExtension maps a file extension (with or without the dot)
// to a file type constant. Returns "" for unsupported extensions.
func FileTypeForExtension(ext string) string {
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return supportedExtensions[ext]
}

// KindForFileType maps a file type to its content kind.
func KindForFileType(fileType string) string {
	switch fileType {
	case FileTypeEPUB:
		return ContentKindBook
	case FileTypeCBZ, FileTypeCBR:
		return ContentKindComic
	}
	return ""
}

var filenameSeparators = strings.NewReplacer("_", " ", ".", " ")

// DeriveTitleFromFilename produces a best-effort title from a filename:
// extension stripped, separators normalized, surrounding whitespace
// collapsed. Used to seed a record before enrichment.
func DeriveTitleFromFilename(filename string) string {
	name := strings.TrimSuffix(filename, filepath.Ext(filename))
	name = filenameSeparators.Replace(name)
	return strings.Join(strings.Fields(name), " ")
}
