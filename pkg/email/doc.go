// Package email delivers composed messages through a pluggable Transport.
//
// Transports:
//   - SMTPTransport: MIME composition with gomail, one SMTP session per
//     message with separate connect, greeting and socket deadlines
//   - PostmarkTransport: Postmark's transactional API
//   - FileTransport: writes messages to a directory for local development
//   - NewUnavailable: fails every send, used when credentials are missing
//
// New picks one from Config.Driver (MAIL_DRIVER):
//
//	transport, err := email.New(cfg)
//	if err != nil {
//	    return err
//	}
//	id, err := transport.Send(ctx, email.Message{
//	    To:      []string{"student@example.com"},
//	    Subject: "Welcome",
//	    HTML:    html,
//	})
//
// # Errors
//
// Every failed send matches ErrTransport. Failures the provider will keep
// refusing (5xx SMTP replies, invalid or inactive recipients) additionally
// match ErrRejected so callers can stop retrying. A transport built without
// credentials returns ErrTransportUnavailable from both Send and Verify.
//
// The templates subpackage renders HTML bodies from templ components.
package email
