package templates

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

// Layout wraps body in a minimal email-safe document with inline styles.
func Layout(title string, body ...templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<!DOCTYPE html><html><head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1"><title>`+
			templ.EscapeString(title)+
			`</title></head><body style="margin:0;padding:24px;background:#f4f5f7;font-family:Helvetica,Arial,sans-serif;color:#1f2933">`+
			`<table role="presentation" width="100%" cellpadding="0" cellspacing="0"><tr><td align="center">`+
			`<table role="presentation" width="560" cellpadding="0" cellspacing="0" style="background:#ffffff;border-radius:6px;padding:32px">`); err != nil {
			return err
		}
		for _, c := range body {
			if err := c.Render(ctx, w); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, `</table></td></tr></table></body></html>`)
		return err
	})
}

// Heading renders a section title row.
func Heading(text string) templ.Component {
	return row(`<h1 style="margin:0 0 16px;font-size:22px">` + templ.EscapeString(text) + `</h1>`)
}

// Text renders a paragraph row.
func Text(text string) templ.Component {
	return row(`<p style="margin:0 0 16px;font-size:15px;line-height:1.5">` + templ.EscapeString(text) + `</p>`)
}

// Button renders a call-to-action link. Unsafe URLs are replaced by templ's sanitizer.
func Button(label, href string) templ.Component {
	url := templ.URL(href)
	return row(`<a href="` + templ.EscapeString(string(url)) +
		`" style="display:inline-block;margin:8px 0 24px;padding:12px 20px;background:#2563eb;color:#ffffff;text-decoration:none;border-radius:4px">` +
		templ.EscapeString(label) + `</a>`)
}

func row(html string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := io.WriteString(w, `<tr><td>`+html+`</td></tr>`)
		return err
	})
}
