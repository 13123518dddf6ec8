// Package pipeline enforces the legal status transitions for the two-phase
// archive lifecycle. The store records raw phase outcomes; this layer decides
// which transitions are allowed and when an item is abandoned.
package pipeline

import (
	"context"
	"fmt"

	errs "fanvault/pkg/errors"
	"fanvault/pkg/logger"
	"fanvault/pkg/models"
	"fanvault/pkg/statusstore"
)

// ErrInvalidTransition is returned when a caller requests a transition the
// current status does not permit.
type ErrInvalidTransition struct {
	ItemID string
	From   models.Phase2Status
	To     models.Phase2Status
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("item %s: invalid transition %s -> %s", e.ItemID, e.From, e.To)
}

// Machine drives phase transitions against a status store.
type Machine struct {
	store       statusstore.Store
	maxAttempts int
	logger      logger.Logger
}

// New creates a machine. maxAttempts is the failure ceiling after which an
// item is marked abandoned; values below 1 disable abandonment.
func New(store statusstore.Store, maxAttempts int, log logger.Logger) *Machine {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Machine{store: store, maxAttempts: maxAttempts, logger: log}
}

// MarkDiscovered records a phase-1 success. Re-marking an already discovered
// item is a no-op.
func (m *Machine) MarkDiscovered(ctx context.Context, id string) (*models.ContentItem, error) {
	return m.store.MarkPhaseResult(ctx, id, statusstore.PhaseDiscovery, true, "")
}

// FailDiscovery records a phase-1 failure with its error text.
func (m *Machine) FailDiscovery(ctx context.Context, id string, cause error) (*models.ContentItem, error) {
	return m.store.MarkPhaseResult(ctx, id, statusstore.PhaseDiscovery, false, errText(cause))
}

// BeginExtraction moves an item into processing. Processing is only reachable
// from pending, so a failed item first re-enters pending (keeping its attempt
// count, unlike Reset) and then starts. Completed, abandoned, and already
// processing items are invalid transitions.
func (m *Machine) BeginExtraction(ctx context.Context, id string) (*models.ContentItem, error) {
	item, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch item.Phase2Status {
	case models.Phase2Pending:
	case models.Phase2Failed:
		if _, err := m.store.Upsert(ctx, id, statusstore.Patch{
			Phase2Status: statusstore.Ptr(models.Phase2Pending),
		}); err != nil {
			return nil, err
		}
	default:
		return nil, &ErrInvalidTransition{ItemID: id, From: item.Phase2Status, To: models.Phase2Processing}
	}
	return m.store.Upsert(ctx, id, statusstore.Patch{
		Phase2Status: statusstore.Ptr(models.Phase2Processing),
	})
}

// CompleteExtraction records a phase-2 success. The item must currently be
// processing; completing twice is tolerated as a no-op because success marks
// are idempotent.
func (m *Machine) CompleteExtraction(ctx context.Context, id string) (*models.ContentItem, error) {
	item, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Phase2Status != models.Phase2Processing && item.Phase2Status != models.Phase2Completed {
		return nil, &ErrInvalidTransition{ItemID: id, From: item.Phase2Status, To: models.Phase2Completed}
	}
	return m.store.MarkPhaseResult(ctx, id, statusstore.PhaseExtraction, true, "")
}

// FailExtraction records a phase-2 failure. When the resulting attempt count
// reaches the ceiling the item is marked abandoned and excluded from future
// runs until an operator resets it.
func (m *Machine) FailExtraction(ctx context.Context, id string, cause error) (*models.ContentItem, error) {
	item, err := m.store.MarkPhaseResult(ctx, id, statusstore.PhaseExtraction, false, errText(cause))
	if err != nil {
		return nil, err
	}
	if m.maxAttempts > 0 && item.AttemptCount >= m.maxAttempts {
		m.logger.WarnWithFields("item abandoned after repeated failures", map[string]interface{}{
			"item_id":      id,
			"attempts":     item.AttemptCount,
			"max_attempts": m.maxAttempts,
		})
		return m.store.Upsert(ctx, id, statusstore.Patch{
			Phase2Status: statusstore.Ptr(models.Phase2Abandoned),
		})
	}
	return item, nil
}

// Reset forces the named phase back to pending and zeroes the attempt count.
// This is the only path out of abandoned and exists for operator intervention,
// so the write is logged with an explicit trigger for audit.
func (m *Machine) Reset(ctx context.Context, id string, phase statusstore.Phase) (*models.ContentItem, error) {
	patch := statusstore.Patch{
		AttemptCount: statusstore.Ptr(0),
		LastError:    statusstore.Ptr(""),
	}
	switch phase {
	case statusstore.PhaseDiscovery:
		patch.Phase1Status = statusstore.Ptr(models.Phase1Pending)
	case statusstore.PhaseExtraction:
		patch.Phase2Status = statusstore.Ptr(models.Phase2Pending)
	default:
		return nil, errs.Newf(errs.ErrorTypeUnknown, "unknown phase %q", phase)
	}

	item, err := m.store.Upsert(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	m.logger.InfoWithFields("item reset", map[string]interface{}{
		"item_id": id,
		"phase":   string(phase),
		"trigger": "manual_reset",
	})
	return item, nil
}

// Runnable reports whether an item is eligible for a phase-2 run: discovered,
// not soft-deleted, and neither completed nor abandoned.
func Runnable(item *models.ContentItem) bool {
	if item.Deleted() {
		return false
	}
	if item.Phase1Status != models.Phase1Discovered {
		return false
	}
	switch item.Phase2Status {
	case models.Phase2Pending, models.Phase2Failed:
		return true
	default:
		return false
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
