// Package mailer is the email side of the job queue: a Producer that
// validates and enqueues emails, and the handlers a queue.Worker runs to
// deliver them through an email.Transport.
//
// Three job types exist. course-invite runs at priority 1, generic-email at
// priority 5 and test-email at priority 10; lower runs first. Course invites
// and test emails are rendered when the job runs, so a template change applies
// to jobs already waiting.
//
//	producer, _ := mailer.NewProducer(store)
//	id, err := producer.SendEmail(ctx, email.Message{
//		To:      []string{"ada@example.com"},
//		Subject: "Welcome",
//		Text:    "Glad to have you.",
//	})
//	if errors.Is(err, mailer.ErrValidation) {
//		fields := validator.ExtractValidationErrors(err)
//		...
//	}
//
//	worker, _ := mailer.NewWorker(store, transport, nil, queue.WithConcurrency(5))
//	_ = worker.Start(ctx)
//
// Delivery is at least once. A provider rejection (email.IsRejected) fails the
// job at once; any other transport error goes through the worker's backoff.
package mailer
