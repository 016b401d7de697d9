package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

type MagicLinkData struct {
	Name      string
	Link      string
	ExpiresIn string
}

// MagicLink renders the sign-in email for the given link.
func MagicLink(to string, data MagicLinkData) (Message, error) {
	var body bytes.Buffer
	if err := templates.ExecuteTemplate(&body, "magic_link.html", data); err != nil {
		return Message{}, fmt.Errorf("render magic link email: %w", err)
	}
	return Message{
		To:      []string{to},
		Subject: "Your sign-in link",
		Text:    fmt.Sprintf("Sign in: %s\n\nThis link expires in %s.", data.Link, data.ExpiresIn),
		HTML:    body.String(),
	}, nil
}
