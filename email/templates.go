package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
)

//go:embed tmpl/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "tmpl/*.tmpl"))

type publishData struct {
	SiteName       string
	Title          string
	Teaser         string
	Link           string
	BaseURL        string
	UnsubscribeURL string
}

type welcomeData struct {
	SiteName       string
	Name           string
	BaseURL        string
	UnsubscribeURL string
}

func render(name string, data any) (string, error) {
	var b bytes.Buffer
	if err := templates.ExecuteTemplate(&b, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return b.String(), nil
}
