package chat

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/engardedata/engarde-chat/internal/models"
)

// SiteProfile describes the website the assistant speaks for.
type SiteProfile struct {
	Name        string   `yaml:"name"`
	Owner       string   `yaml:"owner"`
	Description string   `yaml:"description"`
	Topics      []string `yaml:"topics"`
	Tone        string   `yaml:"tone"`
}

// DefaultSiteProfile is the profile of the En Garde Data site.
var DefaultSiteProfile = SiteProfile{
	Name:  "En Garde Data",
	Owner: "a Data Scientist and Frontend Engineer",
	Description: "The website features a Technical Blog (LLM, RAG, ML), an Internship Journal, " +
		"and a Creative Portfolio (Art, Film).",
	Topics: []string{"Data Science", "Web Dev", "the Portfolio"},
	Tone:   `Be concise, professional, yet friendly and slightly "cyberpunk" in tone.`,
}

var instructionTmpl = template.Must(template.New("instruction").Funcs(template.FuncMap{
	"join":   strings.Join,
	"topics": joinTopics,
}).Parse(`You are the AI assistant for a website called "{{.Site.Name}}".
The website belongs to {{.Site.Owner}}.
{{.Site.Description}}

Here is the context of the latest blog posts:
{{range .Posts}}- Title: {{.Title}}
  - Excerpt: {{.Excerpt}}
  - Tags: {{join .Tags ", "}}
{{end}}
Here is the context of the portfolio items:
{{range .Items}}- Title: {{.Title}}
  - Type: {{.Type}}
  - Description: {{.Description}}
{{end}}
Your goal is to answer visitor questions about the content of the website, the author's skills, or summarize the available articles.
{{.Site.Tone}}
If the user asks about something not on the website, politely steer them back to the topics of {{topics .Site.Topics}}.
`))

// BuildInstruction renders the system instruction sent with every request. Empty profile fields fall back
// to DefaultSiteProfile.
func BuildInstruction(site SiteProfile, posts []models.BlogPost, items []models.PortfolioItem) (string, error) {
	site = site.withDefaults()

	var sb strings.Builder
	err := instructionTmpl.Execute(&sb, struct {
		Site  SiteProfile
		Posts []models.BlogPost
		Items []models.PortfolioItem
	}{
		Site:  site,
		Posts: posts,
		Items: items,
	})
	if err != nil {
		return "", fmt.Errorf("failed to execute instruction template: %w", err)
	}
	return sb.String(), nil
}

func (s SiteProfile) withDefaults() SiteProfile {
	if s.Name == "" {
		s.Name = DefaultSiteProfile.Name
	}
	if s.Owner == "" {
		s.Owner = DefaultSiteProfile.Owner
	}
	if s.Description == "" {
		s.Description = DefaultSiteProfile.Description
	}
	if len(s.Topics) == 0 {
		s.Topics = DefaultSiteProfile.Topics
	}
	if s.Tone == "" {
		s.Tone = DefaultSiteProfile.Tone
	}
	return s
}

// joinTopics renders "a, b, or c".
func joinTopics(topics []string) string {
	switch len(topics) {
	case 0:
		return ""
	case 1:
		return topics[0]
	case 2:
		return topics[0] + " or " + topics[1]
	}
	return strings.Join(topics[:len(topics)-1], ", ") + ", or " + topics[len(topics)-1]
}
