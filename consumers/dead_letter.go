package consumers

import (
	"context"
	"encoding/json"
	"fmt"

	"meetandmore-server/models"
	"meetandmore-server/queue"

	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// deadLetterHandler persists every dead-lettered job for operator review and
// raises an alert. Every job that exhausts its retry budget ends here with a
// non-empty error.
func deadLetterHandler(d Deps) queue.Handler {
	return func(ctx context.Context, payload json.RawMessage) error {
		var dl queue.DeadLetter
		if err := json.Unmarshal(payload, &dl); err != nil {
			return fmt.Errorf("%w: dead-letter payload: %v", queue.ErrBadPayload, err)
		}

		row := models.DeadLetterLog{
			QueueName:       dl.Queue,
			OriginalPayload: datatypes.JSON(dl.Original),
			Error:           dl.Error,
			Stack:           dl.Stack,
		}
		if err := d.DB.WithContext(ctx).Create(&row).Error; err != nil {
			return fmt.Errorf("persist dead-letter log: %w", err)
		}

		log.WithFields(log.Fields{
			"queue": dl.Queue,
			"error": dl.Error,
		}).Error("Job dead-lettered")

		if err := d.Notifications.AlertOperator(ctx, "Job dead-lettered", map[string]interface{}{
			"queue": dl.Queue,
			"error": dl.Error,
		}); err != nil {
			log.WithError(err).Error("Failed to enqueue dead-letter operator alert")
		}
		return nil
	}
}
