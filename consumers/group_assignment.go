package consumers

import (
	"context"
	"encoding/json"
	"fmt"

	"meetandmore-server/queue"
	"meetandmore-server/scheduler"
)

func groupAssignmentHandler(d Deps) queue.Handler {
	return func(ctx context.Context, payload json.RawMessage) error {
		var job scheduler.TaskPayload
		if err := json.Unmarshal(payload, &job); err != nil || job.EventDateID == 0 {
			return fmt.Errorf("%w: group-assignment payload: %v", queue.ErrBadPayload, err)
		}
		return d.Settlement.AssignGroups(ctx, job.EventDateID)
	}
}
