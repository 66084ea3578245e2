package handoff

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"finzcore/internal/kv"
	"finzcore/pkg/domain"
)

// ResolutionKind classifies how the durable project identity was determined.
type ResolutionKind string

const (
	// ResolutionReplayed means the idempotency ledger already holds the result.
	ResolutionReplayed ResolutionKind = "replayed"
	// ResolutionReused means the caller's project hint is bound to this baseline.
	ResolutionReused ResolutionKind = "reused"
	// ResolutionRedirected means a different existing project is bound to this baseline.
	ResolutionRedirected ResolutionKind = "redirected"
	// ResolutionMinted means no project is bound to this baseline anywhere.
	ResolutionMinted ResolutionKind = "minted"
)

// Resolution is the resolver's terminal answer.
type Resolution struct {
	Kind      ResolutionKind
	ProjectID string
	// Replayed carries the cached result when Kind is ResolutionReplayed.
	Replayed *domain.HandoffResult
}

// Resolver decides which durable project identity a baseline belongs to.
// Outcomes are evaluated in strict order: idempotent replay, same-baseline
// reuse of the caller's hint, redirect to a project already bound to this
// baseline, and only as a last resort a freshly minted identity. The hint is
// never reused when doing so would rebind it to a different baseline.
type Resolver struct {
	store         kv.Store
	projectsTable string
	logger        *slog.Logger
	newID         func() string
	scanLimit     int
	maxScanPages  int
}

// Scan bounds. The baseline binding is not a primary lookup key, so the
// redirect search is a paged full scan; the cap keeps it from running
// unbounded on large tables.
const (
	defaultScanLimit    = 250
	defaultMaxScanPages = 8
)

func newResolver(store kv.Store, projectsTable string, logger *slog.Logger, newID func() string) *Resolver {
	return &Resolver{
		store:         store,
		projectsTable: projectsTable,
		logger:        logger,
		newID:         newID,
		scanLimit:     defaultScanLimit,
		maxScanPages:  defaultMaxScanPages,
	}
}

// Resolve determines the project identity for (incomingProjectID?, baselineID)
// given the ledger's answer for the request token.
func (r *Resolver) Resolve(ctx context.Context, incomingProjectID, baselineID string, cached *domain.IdempotencyRecord) (Resolution, error) {
	if cached != nil {
		if cached.Result.BaselineID == baselineID {
			result := cached.Result
			return Resolution{Kind: ResolutionReplayed, ProjectID: result.ProjectID, Replayed: &result}, nil
		}
		return Resolution{}, domain.IdempotencyConflictError{
			Token:               cached.Token,
			ExistingBaselineID:  cached.Result.BaselineID,
			AttemptedBaselineID: baselineID,
			Reason:              "token is bound to a different baseline",
		}
	}

	if incomingProjectID != "" {
		item, ok, err := r.store.Get(ctx, r.projectsTable, projectKey(incomingProjectID))
		if err != nil {
			return Resolution{}, domain.TransientStoreError{Op: "resolve project hint", Err: err}
		}
		if ok && item.String("baseline_id") == baselineID {
			return Resolution{Kind: ResolutionReused, ProjectID: incomingProjectID}, nil
		}
	}

	existingID, err := r.findByBaseline(ctx, baselineID)
	if err != nil {
		return Resolution{}, err
	}
	if existingID != "" {
		return Resolution{Kind: ResolutionRedirected, ProjectID: existingID}, nil
	}

	return Resolution{Kind: ResolutionMinted, ProjectID: r.newID()}, nil
}

// findByBaseline scans project metadata for a record already bound to the
// baseline. The scan is bounded and fails closed: exceeding the page cap is
// logged and reported as "not found", so the worst case under extreme
// concurrency is a redundant project, never a rebind.
func (r *Resolver) findByBaseline(ctx context.Context, baselineID string) (string, error) {
	started := time.Now()
	var startKey *kv.Key
	for page := 0; page < r.maxScanPages; page++ {
		result, err := r.store.Scan(ctx, kv.ScanRequest{
			Table:    r.projectsTable,
			Limit:    r.scanLimit,
			StartKey: startKey,
		})
		if err != nil {
			return "", domain.TransientStoreError{Op: "scan projects", Err: err}
		}
		for _, item := range result.Items {
			if item.String("sk") != skMetadata {
				continue
			}
			if item.String("baseline_id") != baselineID {
				continue
			}
			return strings.TrimPrefix(item.String("pk"), pkProjectPrefix), nil
		}
		if result.LastKey == nil {
			return "", nil
		}
		startKey = result.LastKey
	}
	r.logger.Warn("project scan cap reached, treating baseline as unbound",
		"baseline_id", baselineID,
		"pages", r.maxScanPages,
		"elapsed", time.Since(started))
	return "", nil
}
