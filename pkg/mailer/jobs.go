package mailer

import (
	"time"

	"github.com/learnhub/mailqueue/pkg/queue"
)

// Job types handled by this package.
const (
	JobGenericEmail queue.JobType = "generic-email"
	JobCourseInvite queue.JobType = "course-invite"
	JobTestEmail    queue.JobType = "test-email"
)

// Default priorities per job type. Invites go out before everything else and
// test emails last.
const (
	PriorityCourseInvite = 1
	PriorityGenericEmail = 5
	PriorityTestEmail    = 10
)

// DefaultTestSubject is used by SendTestEmail when no subject is given.
const DefaultTestSubject = "Test email"

// JobTypes lists every job type the producer may enqueue.
func JobTypes() []queue.JobType {
	return []queue.JobType{JobGenericEmail, JobCourseInvite, JobTestEmail}
}

// CourseInvite is the payload of a course-invite job. The email body is
// rendered when the job runs, not when it is enqueued.
type CourseInvite struct {
	To            string     `json:"to"`
	RecipientName string     `json:"recipient_name,omitempty"`
	InviterName   string     `json:"inviter_name,omitempty"`
	CourseTitle   string     `json:"course_title"`
	InviteURL     string     `json:"invite_url"`
	Note          string     `json:"note,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

type testEmail struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
}
