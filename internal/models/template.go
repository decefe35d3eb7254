package models

// Template seeds the pages and plugins of a new website
type Template struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Pages   []TemplatePage `json:"pages"`
	Plugins []string       `json:"plugins"`
}

type TemplatePage struct {
	Title string `json:"title"`
	Slug  string `json:"slug"`
}

var templates = []Template{
	{
		ID:   "blank",
		Name: "Blank",
		Pages: []TemplatePage{
			{Title: "Home", Slug: "home"},
		},
	},
	{
		ID:   "business",
		Name: "Business",
		Pages: []TemplatePage{
			{Title: "Home", Slug: "home"},
			{Title: "Services", Slug: "services"},
			{Title: "About", Slug: "about"},
			{Title: "Contact", Slug: "contact"},
		},
		Plugins: []string{"seo", "contact-form", "analytics"},
	},
	{
		ID:   "portfolio",
		Name: "Portfolio",
		Pages: []TemplatePage{
			{Title: "Home", Slug: "home"},
			{Title: "Work", Slug: "work"},
			{Title: "About", Slug: "about"},
		},
		Plugins: []string{"seo", "gallery"},
	},
	{
		ID:   "blog",
		Name: "Blog",
		Pages: []TemplatePage{
			{Title: "Home", Slug: "home"},
			{Title: "Posts", Slug: "posts"},
			{Title: "About", Slug: "about"},
		},
		Plugins: []string{"seo", "comments", "rss"},
	},
}

// Templates returns the template catalog
func Templates() []Template {
	out := make([]Template, len(templates))
	copy(out, templates)
	return out
}

// FindTemplate looks a template up by id
func FindTemplate(id string) (Template, bool) {
	for _, t := range templates {
		if t.ID == id {
			return t, true
		}
	}
	return Template{}, false
}
