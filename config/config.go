package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// App is the typed view of the process environment. storage loads the raw
// DSN/Redis address itself; everything tunable lives here.
type App struct {
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`

	// Payment gateway
	RazorpayKeyID     string `envconfig:"RAZORPAY_KEY_ID"`
	RazorpayKeySecret string `envconfig:"RAZORPAY_KEY_SECRET"`

	// SMTP
	SMTPHost string `envconfig:"SMTP_HOST"`
	SMTPPort string `envconfig:"SMTP_PORT" default:"587"`
	SMTPUser string `envconfig:"SMTP_USER"`
	SMTPPass string `envconfig:"SMTP_PASSWORD"`
	MailFrom string `envconfig:"MAIL_FROM"`

	// OperatorEmail receives manual-refund and dead-letter alerts.
	OperatorEmail string `envconfig:"OPERATOR_EMAIL" required:"true"`

	// Queue tuning
	JobMaxAttempts  int           `envconfig:"JOB_MAX_ATTEMPTS" default:"3"`
	JobBackoffBase  time.Duration `envconfig:"JOB_BACKOFF_BASE" default:"1s"`
	EmailBatchSize  int           `envconfig:"EMAIL_BATCH_SIZE" default:"100"`
	EmailBatchEvery time.Duration `envconfig:"EMAIL_BATCH_EVERY" default:"5s"`

	// Scheduler
	SchedulerLockTTL    time.Duration `envconfig:"SCHEDULER_LOCK_TTL" default:"10s"`
	SchedulerMarkerTTL  time.Duration `envconfig:"SCHEDULER_MARKER_TTL" default:"168h"`
	SchedulerSweepEvery time.Duration `envconfig:"SCHEDULER_SWEEP_EVERY" default:"24h"`
}

func Load() (App, error) {
	var c App
	err := envconfig.Process("", &c)
	return c, err
}
