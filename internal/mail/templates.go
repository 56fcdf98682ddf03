package mail

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	"html/template"
	"io/fs"
	"strings"
)

//go:embed templates
var templatesFS embed.FS

// Template names, one per file under templates/pages.
const (
	TemplateVerifyEmail   = "verify-email"
	TemplateResetPassword = "reset-password"
	TemplateInvitation    = "invitation"
	TemplateChangeEmail   = "change-email"
	TemplateMagicLink     = "magic-link"
	TemplateOTP           = "otp"
)

// Renderer turns a page template into a subject line and an HTML body.
// Every page defines a "subject" and a "content" block wrapped by the base
// layout.
type Renderer struct {
	pages map[string]*template.Template
}

func NewRenderer() (*Renderer, error) {
	base, err := fs.ReadFile(templatesFS, "templates/layouts/base.html")
	if err != nil {
		return nil, err
	}

	entries, err := fs.ReadDir(templatesFS, "templates/pages")
	if err != nil {
		return nil, err
	}

	r := &Renderer{pages: make(map[string]*template.Template, len(entries))}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		content, err := fs.ReadFile(templatesFS, "templates/pages/"+entry.Name())
		if err != nil {
			return nil, err
		}

		name := strings.TrimSuffix(entry.Name(), ".html")
		tmpl, err := template.New(name).Parse(string(base))
		if err != nil {
			return nil, fmt.Errorf("parsing layout for %s: %w", name, err)
		}
		if _, err := tmpl.Parse(string(content)); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		r.pages[name] = tmpl
	}

	return r, nil
}

func (r *Renderer) Render(name string, data interface{}) (subject, body string, err error) {
	tmpl, ok := r.pages[name]
	if !ok {
		return "", "", fmt.Errorf("unknown mail template %q", name)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "subject", data); err != nil {
		return "", "", fmt.Errorf("rendering %s subject: %w", name, err)
	}
	subject = html.UnescapeString(strings.TrimSpace(buf.String()))

	buf.Reset()
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("rendering %s: %w", name, err)
	}
	return subject, buf.String(), nil
}
