package handoff

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"finzcore/internal/audit"
	"finzcore/internal/kv"
	"finzcore/internal/taxonomy"
	"finzcore/pkg/domain"
)

// Tables names the two backing tables.
type Tables struct {
	Projects    string
	Idempotency string
}

// DefaultTables matches the production table names.
func DefaultTables() Tables {
	return Tables{Projects: "finz_projects", Idempotency: "finz_idempotency"}
}

// Service orchestrates the handoff pipeline: ledger check, project identity
// resolution, normalization, the collision-guarded atomic bind, rubro
// materialization, and finally the ledger record, audit entry, and metrics.
type Service struct {
	store   kv.Store
	tables  Tables
	logger  *slog.Logger
	sink    audit.Sink
	metrics Metrics
	lookup  taxonomy.Lookup
	now     func() time.Time
	newID   func() string

	scanLimit    int
	maxScanPages int

	ledger   *Ledger
	resolver *Resolver
	guard    *Guard
	mat      *Materializer
}

// Option customizes a Service.
type Option func(*Service)

// WithTables overrides the backing table names.
func WithTables(t Tables) Option {
	return func(s *Service) { s.tables = t }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithAudit sets the audit sink.
func WithAudit(sink audit.Sink) Option {
	return func(s *Service) { s.sink = sink }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source. Tests use this for stable timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides how freshly minted project and handoff IDs are
// produced.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// WithTaxonomy overrides the estimate-to-rubro code lookup.
func WithTaxonomy(l taxonomy.Lookup) Option {
	return func(s *Service) { s.lookup = l }
}

// WithScanBounds overrides the resolver's scan page size and page cap.
func WithScanBounds(limit, maxPages int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.scanLimit = limit
		}
		if maxPages > 0 {
			s.maxScanPages = maxPages
		}
	}
}

// NewService constructs the handoff service over a kv store.
func NewService(store kv.Store, opts ...Option) *Service {
	s := &Service{
		store:        store,
		tables:       DefaultTables(),
		logger:       slog.Default(),
		sink:         audit.Nop{},
		metrics:      NopMetrics{},
		lookup:       taxonomy.Default(),
		now:          func() time.Time { return time.Now().UTC() },
		newID:        uuid.NewString,
		scanLimit:    defaultScanLimit,
		maxScanPages: defaultMaxScanPages,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.ledger = NewLedger(store, s.tables.Idempotency)
	s.ledger.now = s.now
	s.resolver = newResolver(store, s.tables.Projects, s.logger, s.newID)
	s.resolver.scanLimit = s.scanLimit
	s.resolver.maxScanPages = s.maxScanPages
	s.guard = newGuard(store, s.tables.Projects, s.now)
	s.mat = newMaterializer(store, s.tables.Projects, s.lookup, s.logger, s.now)
	return s
}

// HandoffRequest is one baseline-to-project handoff invocation.
type HandoffRequest struct {
	// ProjectID is an optional hint naming the durable identity the caller
	// believes this baseline belongs to. It is advisory; the resolver may
	// redirect or mint instead.
	ProjectID  string
	BaselineID string
	// Token is the caller-supplied idempotency token.
	Token string
	Owner string
	// Payload is the raw baseline payload as received.
	Payload map[string]any
}

func (r HandoffRequest) validate() error {
	if r.BaselineID == "" {
		return domain.ValidationError{Field: "baseline_id", Reason: "is required"}
	}
	if r.Token == "" {
		return domain.ValidationError{Field: "idempotency_token", Reason: "is required"}
	}
	if r.Payload == nil {
		return domain.ValidationError{Field: "payload", Reason: "is required"}
	}
	return nil
}

// Handoff executes one handoff end to end. The returned result's Outcome is
// created or replayed; every conflict is a typed error.
func (s *Service) Handoff(ctx context.Context, req HandoffRequest) (domain.HandoffResult, error) {
	started := s.now()
	result, err := s.handoff(ctx, req)
	if err != nil {
		s.metrics.Conflict(conflictKind(err))
		return domain.HandoffResult{}, err
	}
	s.metrics.ObserveHandoff(string(result.Outcome), s.now().Sub(started))
	s.metrics.RubrosSeeded(result.Materialization.Seeded)
	return result, nil
}

func (s *Service) handoff(ctx context.Context, req HandoffRequest) (domain.HandoffResult, error) {
	if err := req.validate(); err != nil {
		return domain.HandoffResult{}, err
	}

	payload, err := CanonicalPayload(req.Payload)
	if err != nil {
		return domain.HandoffResult{}, domain.ValidationError{Field: "payload", Reason: "is not serializable"}
	}

	cached, err := s.ledger.Check(ctx, req.Token, payload)
	if err != nil {
		return domain.HandoffResult{}, err
	}

	resolution, err := s.resolver.Resolve(ctx, req.ProjectID, req.BaselineID, cached)
	if err != nil {
		return domain.HandoffResult{}, err
	}
	if resolution.Kind == ResolutionReplayed {
		result := *resolution.Replayed
		result.Outcome = domain.OutcomeReplayed
		s.logger.Info("handoff replayed from ledger",
			"token", req.Token, "project_id", result.ProjectID, "baseline_id", result.BaselineID)
		return result, nil
	}

	baseline := NormalizeBaseline(req.Payload)
	baseline.ID = req.BaselineID

	project := domain.Project{
		Base:       domain.Base{ID: resolution.ProjectID},
		BaselineID: req.BaselineID,
		Name:       baseline.ProjectName,
		Client:     baseline.ClientName,
		Currency:   baseline.Currency,
	}
	handoff := domain.Handoff{
		Base:       domain.Base{ID: s.newID()},
		ProjectID:  resolution.ProjectID,
		BaselineID: req.BaselineID,
		Owner:      req.Owner,
	}

	binding, err := s.guard.Bind(ctx, project, handoff)
	if err != nil {
		return domain.HandoffResult{}, err
	}

	materialization, err := s.mat.Seed(ctx, binding.Project.ID, baseline)
	if err != nil {
		return domain.HandoffResult{}, err
	}

	result := domain.HandoffResult{
		HandoffID:       binding.Handoff.ID,
		ProjectID:       binding.Project.ID,
		BaselineID:      req.BaselineID,
		Outcome:         domain.OutcomeCreated,
		Materialization: materialization,
	}

	// The durable bind already happened; a ledger write failure only costs a
	// future replay, so it is logged rather than failing the handoff.
	if err := s.ledger.Record(ctx, req.Token, payload, result); err != nil {
		s.logger.Warn("idempotency record failed",
			"token", req.Token, "project_id", result.ProjectID, "error", err)
	}

	s.emit(ctx, audit.Entry{
		Actor:  req.Owner,
		Action: "handoff." + string(resolution.Kind),
		After: map[string]any{
			"project_id":  result.ProjectID,
			"baseline_id": result.BaselineID,
			"handoff_id":  result.HandoffID,
			"seeded":      materialization.Seeded,
		},
	})
	s.logger.Info("handoff completed",
		"project_id", result.ProjectID,
		"baseline_id", result.BaselineID,
		"resolution", resolution.Kind,
		"seeded", materialization.Seeded,
		"skipped", materialization.Skipped)

	return result, nil
}

// AcceptBaseline marks a project's baseline as accepted by delivery, moving
// the project to active. The write is conditioned on the binding still naming
// baselineID, so a stale acceptance surfaces as a collision.
func (s *Service) AcceptBaseline(ctx context.Context, projectID, baselineID, acceptedBy string) (domain.Project, error) {
	if projectID == "" {
		return domain.Project{}, domain.ValidationError{Field: "project_id", Reason: "is required"}
	}
	if baselineID == "" {
		return domain.Project{}, domain.ValidationError{Field: "baseline_id", Reason: "is required"}
	}

	item, ok, err := s.store.Get(ctx, s.tables.Projects, projectKey(projectID))
	if err != nil {
		return domain.Project{}, domain.TransientStoreError{Op: "read project metadata", Err: err}
	}
	if !ok {
		return domain.Project{}, domain.NotFoundError{Entity: "project", ID: projectID}
	}
	project, err := fromItem[domain.Project](item)
	if err != nil {
		return domain.Project{}, domain.TransientStoreError{Op: "read project metadata", Err: err}
	}
	if project.BaselineID != baselineID {
		return domain.Project{}, domain.BaselineCollisionError{
			ProjectID:           projectID,
			ExistingBaselineID:  project.BaselineID,
			AttemptedBaselineID: baselineID,
		}
	}

	before := project
	now := s.now()
	project.Status = domain.StatusActive
	project.AcceptedBy = acceptedBy
	project.AcceptedAt = &now
	project.UpdatedAt = now

	updated, err := toItem(project, projectKey(projectID))
	if err != nil {
		return domain.Project{}, domain.TransientStoreError{Op: "encode project metadata", Err: err}
	}
	err = s.store.Put(ctx, kv.Put{
		Table: s.tables.Projects,
		Item:  updated,
		Condition: &kv.Condition{
			FieldEquals: map[string]any{"baseline_id": baselineID},
		},
	})
	if errors.Is(err, kv.ErrConditionFailed) {
		return domain.Project{}, domain.BaselineCollisionError{
			ProjectID:           projectID,
			AttemptedBaselineID: baselineID,
		}
	}
	if err != nil {
		return domain.Project{}, domain.TransientStoreError{Op: "accept baseline", Err: err}
	}

	s.emit(ctx, audit.Entry{
		Actor:  acceptedBy,
		Action: "project.accept_baseline",
		Before: map[string]any{"status": string(before.Status)},
		After:  map[string]any{"status": string(project.Status), "baseline_id": baselineID},
	})
	return project, nil
}

// ReviseHandoff updates a handoff record's revisable fields through a
// version-checked write. The (project, baseline) origin never changes.
func (s *Service) ReviseHandoff(ctx context.Context, projectID, baselineID string, expectedVersion int, owner string, fields map[string]any) (domain.Handoff, error) {
	item, ok, err := s.store.Get(ctx, s.tables.Projects, handoffKey(projectID, baselineID))
	if err != nil {
		return domain.Handoff{}, domain.TransientStoreError{Op: "read handoff record", Err: err}
	}
	if !ok {
		return domain.Handoff{}, domain.NotFoundError{Entity: "handoff", ID: projectID + "/" + baselineID}
	}
	handoff, err := fromItem[domain.Handoff](item)
	if err != nil {
		return domain.Handoff{}, domain.TransientStoreError{Op: "read handoff record", Err: err}
	}
	if handoff.Version != expectedVersion {
		return domain.Handoff{}, domain.VersionConflictError{HandoffID: handoff.ID, ExpectedVersion: expectedVersion}
	}

	handoff.Version++
	handoff.UpdatedAt = s.now()
	if owner != "" {
		handoff.Owner = owner
	}
	if fields != nil {
		handoff.Fields = fields
	}

	updated, err := toItem(handoff, handoffKey(projectID, baselineID))
	if err != nil {
		return domain.Handoff{}, domain.TransientStoreError{Op: "encode handoff record", Err: err}
	}
	err = s.store.Put(ctx, kv.Put{
		Table: s.tables.Projects,
		Item:  updated,
		Condition: &kv.Condition{
			FieldEquals: map[string]any{"version": expectedVersion},
		},
	})
	if errors.Is(err, kv.ErrConditionFailed) {
		return domain.Handoff{}, domain.VersionConflictError{HandoffID: handoff.ID, ExpectedVersion: expectedVersion}
	}
	if err != nil {
		return domain.Handoff{}, domain.TransientStoreError{Op: "revise handoff", Err: err}
	}
	return handoff, nil
}

// GetProject reads one project's metadata.
func (s *Service) GetProject(ctx context.Context, projectID string) (domain.Project, error) {
	item, ok, err := s.store.Get(ctx, s.tables.Projects, projectKey(projectID))
	if err != nil {
		return domain.Project{}, domain.TransientStoreError{Op: "read project metadata", Err: err}
	}
	if !ok {
		return domain.Project{}, domain.NotFoundError{Entity: "project", ID: projectID}
	}
	return fromItem[domain.Project](item)
}

// ListRubros returns a project's seeded line items in key order.
func (s *Service) ListRubros(ctx context.Context, projectID string) ([]domain.Rubro, error) {
	items, err := s.store.Query(ctx, kv.QueryRequest{
		Table:    s.tables.Projects,
		PK:       pkProjectPrefix + projectID,
		SKPrefix: skRubroPrefix,
	})
	if err != nil {
		return nil, domain.TransientStoreError{Op: "list rubros", Err: err}
	}
	rubros := make([]domain.Rubro, 0, len(items))
	for _, item := range items {
		rubro, err := fromItem[domain.Rubro](item)
		if err != nil {
			return nil, domain.TransientStoreError{Op: "list rubros", Err: err}
		}
		rubros = append(rubros, rubro)
	}
	return rubros, nil
}

// emit sends an audit entry. Audit is fire-and-forget; failures are logged.
func (s *Service) emit(ctx context.Context, entry audit.Entry) {
	entry.At = s.now()
	if err := s.sink.Emit(ctx, entry); err != nil {
		s.logger.Warn("audit emit failed", "action", entry.Action, "error", err)
	}
}

func conflictKind(err error) string {
	switch {
	case errors.As(err, &domain.IdempotencyConflictError{}):
		return "idempotency"
	case errors.As(err, &domain.BaselineCollisionError{}):
		return "baseline_collision"
	case errors.As(err, &domain.VersionConflictError{}):
		return "version"
	case errors.As(err, &domain.ValidationError{}):
		return "validation"
	default:
		return "store"
	}
}
