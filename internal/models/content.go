package models

// BlogPost is a technical blog or journal entry published on the site.
type BlogPost struct {
	ID         string   `json:"id" yaml:"id"`
	Title      string   `json:"title" yaml:"title"`
	Excerpt    string   `json:"excerpt" yaml:"excerpt"`
	Content    string   `json:"content" yaml:"content"`
	Date       string   `json:"date" yaml:"date"`
	Tags       []string `json:"tags" yaml:"tags"`
	ReadTime   string   `json:"readTime" yaml:"readTime"`
	CoverImage string   `json:"coverImage,omitempty" yaml:"coverImage,omitempty"`
}

// PortfolioItem is a creative or engineering work shown in the portfolio.
type PortfolioItem struct {
	ID          string        `json:"id" yaml:"id"`
	Title       string        `json:"title" yaml:"title"`
	Description string        `json:"description" yaml:"description"`
	Type        PortfolioType `json:"type" yaml:"type"`
	Image       string        `json:"image" yaml:"image"`
	Link        string        `json:"link,omitempty" yaml:"link,omitempty"`
}

// PortfolioType categorises a portfolio item.
type PortfolioType string

// Known portfolio types.
const (
	PortfolioArt    PortfolioType = "Art"
	PortfolioFilm   PortfolioType = "Film"
	PortfolioCode   PortfolioType = "Code"
	PortfolioDesign PortfolioType = "Design"
)

// Valid reports whether t is one of the known portfolio types.
func (t PortfolioType) Valid() bool {
	switch t {
	case PortfolioArt, PortfolioFilm, PortfolioCode, PortfolioDesign:
		return true
	}
	return false
}
