package handlers

import (
	"bytes"
	"html/template"

	"github.com/gofiber/fiber/v2"
)

const redirectDelaySeconds = 3

type completionPage struct {
	Title       string
	Message     string
	RedirectURL string
	Delay       int
}

var completionTemplate = template.Must(template.New("completion").Parse(`<!DOCTYPE html>
<html lang="es">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
{{if .RedirectURL}}<meta http-equiv="refresh" content="{{.Delay}};url={{.RedirectURL}}">{{end}}
</head>
<body>
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
{{if .RedirectURL}}<p><a href="{{.RedirectURL}}">Continuar</a></p>{{end}}
</body>
</html>
`))

// renderCompletion writes the confirmation page shown to a browser returning
// from the provider.
func renderCompletion(c *fiber.Ctx, status int, page completionPage) error {
	page.Delay = redirectDelaySeconds
	var buf bytes.Buffer
	if err := completionTemplate.Execute(&buf, page); err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.Status(status).Send(buf.Bytes())
}
