package consumers

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"meetandmore-server/config"
	"meetandmore-server/queue"
	"meetandmore-server/services"

	log "github.com/sirupsen/logrus"
)

// registerBulkEmail wires the bulk-email topic through a batcher so the SMTP
// relay sees one burst per window instead of one connection per job.
func registerBulkEmail(ctx context.Context, cfg config.App, d Deps) {
	b := queue.NewBatcher("bulk-email", cfg.EmailBatchSize, cfg.EmailBatchEvery, flushEmails(d))
	b.Start(ctx)

	d.Broker.Consume(ctx, services.TopicBulkEmail, b.Add, queue.Options{
		Concurrency: 1,
		MaxAttempts: cfg.JobMaxAttempts,
		BackoffBase: cfg.JobBackoffBase,
	})
}

// flushEmails sends the buffered batch. A single bad payload is dead-lettered
// individually; a transport failure fails the whole flush so the batcher
// retries it on the next trigger.
func flushEmails(d Deps) queue.FlushFunc {
	return func(ctx context.Context, batch []json.RawMessage) error {
		for _, raw := range batch {
			var job services.EmailJob
			if err := json.Unmarshal(raw, &job); err != nil || len(job.To) == 0 {
				if repErr := d.Broker.ReportFailure(ctx, services.TopicBulkEmail, json.RawMessage(raw),
					fmt.Errorf("bad email payload: %v", err)); repErr != nil {
					log.WithError(repErr).Error("Failed to dead-letter bad email payload")
				}
				continue
			}
			if err := d.Mailer.Send(ctx, job.To, job.Subject, renderEmailBody(job)); err != nil {
				return fmt.Errorf("send %q: %w", job.Subject, err)
			}
		}
		return nil
	}
}

// renderEmailBody produces a minimal HTML body from the template name and
// data. Real template rendering lives in the mail service; this fallback
// keeps the pipeline self-contained.
func renderEmailBody(job services.EmailJob) string {
	var sb strings.Builder
	sb.WriteString("<html><body>")
	if name, ok := job.Data["name"].(string); ok && name != "" {
		fmt.Fprintf(&sb, "<p>Hi %s,</p>", html.EscapeString(name))
	}
	fmt.Fprintf(&sb, "<p>%s</p>", html.EscapeString(job.Subject))
	for k, v := range job.Data {
		if k == "name" {
			continue
		}
		fmt.Fprintf(&sb, "<p>%s: %s</p>", html.EscapeString(k), html.EscapeString(fmt.Sprint(v)))
	}
	fmt.Fprintf(&sb, "<p data-template=%q></p>", job.TemplateName)
	sb.WriteString("</body></html>")
	return sb.String()
}
