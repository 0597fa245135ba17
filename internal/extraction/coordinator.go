package extraction

import (
	"context"
	"log/slog"
	"time"

	"github.com/outletmedia/leadpipe/internal/models"
)

// DefaultTimeout bounds one extractor collaborator call.
const DefaultTimeout = 10 * time.Second

// Coordinator applies dedup, attempt limiting and the merge policy
// around the Extractor collaborator.
type Coordinator struct {
	extractor Extractor
	timeout   time.Duration
}

// NewCoordinator creates a coordinator with the default call timeout.
func NewCoordinator(extractor Extractor) *Coordinator {
	return &Coordinator{extractor: extractor, timeout: DefaultTimeout}
}

// NewCoordinatorWithTimeout creates a coordinator with an explicit timeout.
func NewCoordinatorWithTimeout(extractor Extractor, timeout time.Duration) *Coordinator {
	return &Coordinator{extractor: extractor, timeout: timeout}
}

// Extract runs one extraction turn against the lead record, mutating it
// in place. Policy, in order:
//   - consecutive failures at the cap: return unchanged, facts stay
//     frozen until a turn resets the counter;
//   - message text already processed this conversation: return
//     unchanged (independent of the outer time-bounded dedup);
//   - otherwise call the extractor and merge the delta last-write-wins.
//
// ExtractionAttempts counts consecutive failures: a failed extraction
// merges nothing, spends the attempt and records the hash so the same
// literal text is not retried; any successful call resets the counter.
func (c *Coordinator) Extract(ctx context.Context, record *models.LeadRecord, rawMessage string) {
	if record.ExtractionAttempts >= models.MaxExtractionAttempts {
		slog.Debug("Coordinator.Extract: failure limit reached, skipping",
			"contactID", record.ContactID, "attempts", record.ExtractionAttempts)
		return
	}

	hash := HashMessage(rawMessage)
	if record.HasProcessedHash(hash) {
		slog.Debug("Coordinator.Extract: message already processed this conversation",
			"contactID", record.ContactID, "hash", hash[:12])
		return
	}

	// The attempt is spent and the hash recorded before the call; only
	// a successful call earns the reset below.
	record.ExtractionAttempts++
	record.ProcessedMessageHashes = models.UnionStrings(record.ProcessedMessageHashes, []string{hash})

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	delta, err := c.extractor.Extract(callCtx, rawMessage, record.Facts)
	if err != nil {
		slog.Warn("Coordinator.Extract: extraction failed, attempt consumed",
			"contactID", record.ContactID, "attempts", record.ExtractionAttempts, "error", err)
		record.LastError = err.Error()
		return
	}
	record.ExtractionAttempts = 0

	if delta.IsEmpty() {
		slog.Debug("Coordinator.Extract: no new information extracted", "contactID", record.ContactID)
		return
	}

	record.Facts = models.MergeFacts(record.Facts, delta)
	slog.Info("Coordinator.Extract: facts merged",
		"contactID", record.ContactID, "attempts", record.ExtractionAttempts,
		"hasName", record.Facts.Name != "", "hasBudget", record.Facts.Budget != 0)
}
