package services

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/engardedata/engarde-chat/internal/models"
	"gopkg.in/yaml.v3"
)

// Content is the set of records loaded from a content file.
type Content struct {
	Posts          []models.BlogPost      `yaml:"posts"`
	PortfolioItems []models.PortfolioItem `yaml:"portfolio"`
}

// LoadContent decodes a YAML content document and validates its records.
func LoadContent(r io.Reader) (Content, error) {
	var c Content
	if err := yaml.NewDecoder(r).Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Content{}, fmt.Errorf("error decoding content: %w", err)
	}

	seen := map[string]bool{}
	for i, p := range c.Posts {
		if p.ID == "" || p.Title == "" {
			return Content{}, fmt.Errorf("post at index %d: id and title are required", i)
		}
		if seen["post/"+p.ID] {
			return Content{}, fmt.Errorf("duplicate post id %q", p.ID)
		}
		seen["post/"+p.ID] = true
	}
	for i, it := range c.PortfolioItems {
		if it.ID == "" || it.Title == "" {
			return Content{}, fmt.Errorf("portfolio item at index %d: id and title are required", i)
		}
		if !it.Type.Valid() {
			return Content{}, fmt.Errorf("portfolio item %q: unknown type %q", it.ID, it.Type)
		}
		if seen["item/"+it.ID] {
			return Content{}, fmt.Errorf("duplicate portfolio item id %q", it.ID)
		}
		seen["item/"+it.ID] = true
	}

	return c, nil
}

// LoadContentFile is LoadContent on the file at path.
func LoadContentFile(path string) (Content, error) {
	f, err := os.Open(path)
	if err != nil {
		return Content{}, fmt.Errorf("error opening content file: %w", err)
	}
	defer f.Close()

	return LoadContent(f)
}
