package email

import "time"

// Driver names accepted by MAIL_DRIVER.
const (
	DriverSMTP     = "smtp"
	DriverPostmark = "postmark"
	DriverFile     = "file"
	DriverNone     = "none"
)

// Config holds transport configuration.
// Credentials are optional; New falls back to an unavailable transport without them.
type Config struct {
	Driver  string `env:"MAIL_DRIVER" envDefault:"smtp"`
	From    string `env:"MAIL_FROM" envDefault:"LearnHub <no-reply@learnhub.local>"`
	ReplyTo string `env:"MAIL_REPLY_TO"`

	SMTPHost               string        `env:"SMTP_HOST"`
	SMTPPort               int           `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername           string        `env:"SMTP_USERNAME"`
	SMTPPassword           string        `env:"SMTP_PASSWORD"`
	SMTPImplicitTLS        bool          `env:"SMTP_SECURE" envDefault:"false"` // TLS from the first byte, usually port 465
	SMTPInsecureSkipVerify bool          `env:"SMTP_INSECURE_SKIP_VERIFY" envDefault:"false"`
	SMTPLocalName          string        `env:"SMTP_LOCAL_NAME" envDefault:"localhost"`
	ConnectionTimeout      time.Duration `env:"SMTP_CONNECTION_TIMEOUT" envDefault:"60s"`
	GreetingTimeout        time.Duration `env:"SMTP_GREETING_TIMEOUT" envDefault:"30s"`
	SocketTimeout          time.Duration `env:"SMTP_SOCKET_TIMEOUT" envDefault:"60s"`

	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`

	OutputDir string `env:"MAIL_OUTPUT_DIR" envDefault:"./tmp/emails"`
}
