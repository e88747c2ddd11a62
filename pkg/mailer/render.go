package mailer

import (
	"context"
	"fmt"
	"strings"

	"github.com/a-h/templ"

	"github.com/learnhub/mailqueue/pkg/email"
	"github.com/learnhub/mailqueue/pkg/email/templates"
)

func renderCourseInvite(ctx context.Context, product string, inv CourseInvite) (email.Message, error) {
	subject := fmt.Sprintf("You're invited to %s", inv.CourseTitle)

	greeting := "Hi,"
	if inv.RecipientName != "" {
		greeting = fmt.Sprintf("Hi %s,", inv.RecipientName)
	}
	intro := fmt.Sprintf("You have been invited to join %q on %s.", inv.CourseTitle, product)
	if inv.InviterName != "" {
		intro = fmt.Sprintf("%s invited you to join %q on %s.", inv.InviterName, inv.CourseTitle, product)
	}

	parts := []string{greeting, intro}
	body := []templ.Component{
		templates.Heading(subject),
		templates.Text(greeting),
		templates.Text(intro),
	}
	if inv.Note != "" {
		parts = append(parts, inv.Note)
		body = append(body, templates.Text(inv.Note))
	}
	body = append(body, templates.Button("Accept invitation", inv.InviteURL))
	parts = append(parts, "Accept the invitation: "+inv.InviteURL)
	if inv.ExpiresAt != nil {
		expiry := fmt.Sprintf("This invitation expires on %s.", inv.ExpiresAt.UTC().Format("January 2, 2006 15:04 MST"))
		parts = append(parts, expiry)
		body = append(body, templates.Text(expiry))
	}

	html, err := templates.Render(ctx, templates.Layout(subject, body...))
	if err != nil {
		return email.Message{}, fmt.Errorf("render course invite: %w", err)
	}

	return email.Message{
		To:      []string{inv.To},
		Subject: subject,
		Text:    strings.Join(parts, "\n\n") + "\n",
		HTML:    html,
		Tag:     string(JobCourseInvite),
	}, nil
}

func renderTestEmail(ctx context.Context, product string, p testEmail) (email.Message, error) {
	line := fmt.Sprintf("This is a test email from %s. If you can read it, mail delivery works.", product)

	html, err := templates.Render(ctx, templates.Layout(p.Subject,
		templates.Heading(p.Subject),
		templates.Text(line),
	))
	if err != nil {
		return email.Message{}, fmt.Errorf("render test email: %w", err)
	}

	return email.Message{
		To:      []string{p.To},
		Subject: p.Subject,
		Text:    line + "\n",
		HTML:    html,
		Tag:     string(JobTestEmail),
	}, nil
}
