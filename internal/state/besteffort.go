package state

import (
	"context"
	"log/slog"

	"docflow/internal/logging"
)

// BestEffort logs a failed state write and swallows it so the stage that
// produced it keeps running.
func BestEffort(ctx context.Context, logger *slog.Logger, operation string, err error) {
	if err == nil {
		return
	}
	logging.WarnWithContext(logging.WithContext(ctx, logger), "state write failed", "state_write_failed",
		logging.String("operation", operation),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "inspect the state database; the document keeps processing"),
		logging.String(logging.FieldImpact, "status output may lag behind the remote service"),
	)
}
