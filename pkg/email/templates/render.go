// Package templates renders email bodies from templ components.
package templates

import (
	"context"
	"strings"

	"github.com/a-h/templ"
)

// Render renders a templ component to an HTML string.
func Render(ctx context.Context, tpl templ.Component) (string, error) {
	var sb strings.Builder
	if err := tpl.Render(ctx, &sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}
