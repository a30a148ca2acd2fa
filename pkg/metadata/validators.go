package metadata

type ListSourcesQuery struct {
	Kind string `query:"kind" json:"kind,omitempty" validate:"omitempty,oneof=book comic"`
}

type SearchQuery struct {
	Query  string `query:"query" json:"query" validate:"required,max=500"`
	Author string `query:"author" json:"author,omitempty" validate:"omitempty,max=200"`
	Source string `query:"source" json:"source,omitempty" validate:"omitempty,oneof=google_books open_library comic_vine"`
}

type ApplyPayload struct {
	Source       string   `json:"source" validate:"required,oneof=google_books open_library comic_vine"`
	ExternalID   string   `json:"external_id,omitempty"`
	Title        string   `json:"title" validate:"required,max=500"`
	Author       string   `json:"author,omitempty" validate:"omitempty,max=500"`
	Description  string   `json:"description,omitempty"`
	CoverURL     string   `json:"cover_url,omitempty" validate:"omitempty,url"`
	Genres       []string `json:"genres,omitempty" validate:"omitempty,max=20,dive,max=100"`
	PublishedAt  string   `json:"published_at,omitempty" validate:"omitempty,max=50"`
	Publisher    string   `json:"publisher,omitempty" validate:"omitempty,max=200"`
	ISBN         string   `json:"isbn,omitempty" validate:"omitempty,max=20"`
	Language     string   `json:"language,omitempty" validate:"omitempty,max=20"`
	SeriesName   string   `json:"series_name,omitempty" validate:"omitempty,max=200"`
	SeriesVolume string   `json:"series_volume,omitempty" validate:"omitempty,max=20"`
}

func (p *ApplyPayload) candidate() Candidate {
	return Candidate{
		Source:       p.Source,
		ExternalID:   p.ExternalID,
		Title:        p.Title,
		Author:       p.Author,
		Description:  p.Description,
		CoverURL:     p.CoverURL,
		Genres:       p.Genres,
		PublishedAt:  p.PublishedAt,
		Publisher:    p.Publisher,
		ISBN:         p.ISBN,
		Language:     p.Language,
		SeriesName:   p.SeriesName,
		SeriesVolume: p.SeriesVolume,
	}
}
