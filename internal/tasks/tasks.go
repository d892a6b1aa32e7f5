package tasks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/desertthunder/datainserter/internal/models"
	"github.com/desertthunder/datainserter/internal/retry"
	"github.com/desertthunder/datainserter/internal/shared"
)

const tracerName = "github.com/desertthunder/datainserter/internal/tasks"

// ProvisionerOpts configures a [Provisioner].
type ProvisionerOpts struct {
	Identity        IdentityStore
	Domain          DomainStore
	Duplicates      DuplicateSink    // Optional audit trail for skipped duplicates
	Policy          retry.Policy     // Retry envelope around each record
	RateLimit       float64          // Maximum record starts per second, zero disables throttling
	ParallelPreload bool             // Preload the reference caches concurrently
	AbortAfter      int              // Consecutive connectivity failures that abort a run, zero disables
	Metrics         *Metrics         // Optional collectors
	Logger          *log.Logger      // Defaults to [shared.NewLogger] on stderr
	Now             func() time.Time // Defaults to [time.Now]
}

// Provisioner provisions user records into the identity and domain stores.
type Provisioner struct {
	identity   IdentityStore
	domain     DomainStore
	duplicates DuplicateSink
	policy     retry.Policy
	rateLimit  float64
	parallel   bool
	abortAfter int
	metrics    *Metrics
	logger     *log.Logger
	now        func() time.Time
	tracer     trace.Tracer
}

// NewProvisioner creates a [Provisioner] from opts.
func NewProvisioner(opts ProvisionerOpts) (*Provisioner, error) {
	if opts.Identity == nil || opts.Domain == nil {
		return nil, fmt.Errorf("%w: identity and domain stores are required", shared.ErrNotInitialized)
	}

	logger := opts.Logger
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Provisioner{
		identity:   opts.Identity,
		domain:     opts.Domain,
		duplicates: opts.Duplicates,
		policy:     opts.Policy,
		rateLimit:  opts.RateLimit,
		parallel:   opts.ParallelPreload,
		abortAfter: opts.AbortAfter,
		metrics:    opts.Metrics,
		logger:     logger,
		now:        now,
		tracer:     otel.Tracer(tracerName),
	}, nil
}

// sendProgress sends a progress update through the channel without blocking.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

// Run is the state shared by every batch of one provisioning run.
type Run struct {
	p           *Provisioner
	common      models.CommonFields
	resolvers   map[models.ReferenceKind]*Resolver
	agencyID    int64
	hasAgency   bool
	limiter     *rate.Limiter
	consecutive int
}

// NewRun preloads the reference caches and reads the default agency.
//
// Any failure here is fatal for the run: no record has been touched yet.
func (p *Provisioner) NewRun(ctx context.Context, common models.CommonFields, progress chan<- ProgressUpdate) (*Run, error) {
	r := &Run{
		p:         p,
		common:    common,
		resolvers: make(map[models.ReferenceKind]*Resolver, len(models.ReferenceKinds)),
	}
	for _, kind := range models.ReferenceKinds {
		r.resolvers[kind] = NewResolver(kind, p.domain)
	}
	if p.rateLimit > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(p.rateLimit), 1)
	}

	if err := r.preload(ctx, progress); err != nil {
		return nil, err
	}

	id, ok, err := p.domain.DefaultAgencyID(ctx)
	if err != nil {
		return nil, err
	}
	r.agencyID, r.hasAgency = id, ok
	if !ok {
		p.logger.Warn("no agency found, user agency links will be skipped")
	}

	return r, nil
}

func (r *Run) preload(ctx context.Context, progress chan<- ProgressUpdate) error {
	total := len(models.ReferenceKinds)
	counts := make([]int, total)

	load := func(ctx context.Context, i int, kind models.ReferenceKind) error {
		cache, err := r.resolvers[kind].Preload(ctx)
		if err != nil {
			return err
		}
		counts[i] = len(cache)
		return nil
	}

	if r.p.parallel {
		g, gctx := errgroup.WithContext(ctx)
		for i, kind := range models.ReferenceKinds {
			g.Go(func() error { return load(gctx, i, kind) })
		}
		if err := g.Wait(); err != nil {
			return err
		}
	} else {
		for i, kind := range models.ReferenceKinds {
			if err := load(ctx, i, kind); err != nil {
				return err
			}
		}
	}

	for i, kind := range models.ReferenceKinds {
		r.p.logger.Debug("preloaded reference cache", "kind", kind, "entries", counts[i])
		sendProgress(progress, preloadUpdate(i+1, total, kind, counts[i]))
	}
	return nil
}

// Resolver returns the run's resolver for kind.
func (r *Run) Resolver(kind models.ReferenceKind) *Resolver {
	return r.resolvers[kind]
}

// DetectDuplicates returns the identity ids of batch emails already present in the identity store.
func (r *Run) DetectDuplicates(ctx context.Context, batch []models.UserRecord) (models.ExistingEmails, error) {
	emails := make([]string, len(batch))
	for i, rec := range batch {
		emails[i] = rec.Email
	}

	var existing models.ExistingEmails
	res := r.p.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		existing, err = r.p.identity.FindExisting(ctx, emails)
		return err
	})
	if res.Err != nil {
		return nil, fmt.Errorf("failed to detect duplicates: %w", res.Err)
	}
	return existing, nil
}

// Process provisions one batch and returns its result.
//
// Records are handled sequentially. Cancellation of ctx is honoured between records; a record already
// in flight runs to completion. On cancellation or abort the partial result is returned with the error.
func (r *Run) Process(ctx context.Context, batch []models.UserRecord, progress chan<- ProgressUpdate) (*models.ProcessingResult, error) {
	start := r.p.now()
	result := models.NewProcessingResult(len(batch))
	defer func() { result.Elapsed = r.p.now().Sub(start) }()
	r.p.metrics.batch()

	sendProgress(progress, detectingDuplicatesUpdate(len(batch)))
	existing, err := r.DetectDuplicates(ctx, batch)
	if err != nil {
		return result, err
	}
	sendProgress(progress, duplicatesFoundUpdate(len(batch), len(existing)))

	for i, rec := range batch {
		if err := ctx.Err(); err != nil {
			r.p.logger.Warn("run cancelled", "processed", result.Processed(), "total", len(batch))
			return result, err
		}
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return result, err
			}
		}

		var abort error
		if id, ok := existing.Lookup(rec.Email); ok {
			r.skipDuplicate(result, rec, id)
		} else {
			abort = r.provision(ctx, result, rec)
		}

		sendProgress(progress, recordUpdate(i+1, len(batch), result.Outcomes[len(result.Outcomes)-1]))
		if abort != nil {
			r.p.logger.Error("aborting run", "processed", result.Processed(), "total", len(batch), "error", abort)
			return result, abort
		}
	}

	sendProgress(progress, completeUpdate(result))
	return result, nil
}

func (r *Run) skipDuplicate(result *models.ProcessingResult, rec models.UserRecord, existingID uuid.UUID) {
	result.AddDuplicate(rec)
	r.p.metrics.record(models.StateDuplicateSkipped.String())
	r.p.logger.Info("skipping duplicate email", "row", rec.Row, "email", rec.Email, "existing_id", existingID)

	if r.p.duplicates == nil {
		return
	}
	dup := models.DuplicateRecord{Row: rec.Row, Email: rec.Email, ExistingID: existingID, DetectedAt: r.p.now()}
	if err := r.p.duplicates.Append(dup); err != nil {
		r.p.logger.Error("failed to record duplicate", "row", rec.Row, "email", rec.Email, "error", err)
	}
}

// provision runs one record through the retry envelope and records its outcome. The returned error is
// non-nil only when the run must abort.
func (r *Run) provision(ctx context.Context, result *models.ProcessingResult, rec models.UserRecord) error {
	started := r.p.now()
	ctx, span := r.p.tracer.Start(context.WithoutCancel(ctx), "provision.record",
		trace.WithAttributes(attribute.Int("row", rec.Row)),
	)
	defer span.End()

	policy := r.p.policy
	onRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		r.p.metrics.retry()
		r.p.logger.Warn("retrying record", "row", rec.Row, "email", rec.Email, "attempt", attempt, "delay", delay, "error", err)
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
	}

	res := policy.Do(ctx, func(ctx context.Context) error {
		return r.provisionRecord(ctx, rec)
	})
	r.p.metrics.observe(r.p.now().Sub(started))
	span.SetAttributes(attribute.Int("attempts", res.Attempts), attribute.String("outcome", res.Outcome.String()))

	if res.Outcome == retry.Succeeded {
		result.AddSuccess(rec, res.Attempts)
		r.p.metrics.record(models.StateSucceeded.String())
		r.consecutive = 0
		r.p.logger.Debug("provisioned record", "row", rec.Row, "email", rec.Email, "attempts", res.Attempts)
		return nil
	}

	span.RecordError(res.Err)
	span.SetStatus(codes.Error, res.Err.Error())
	result.AddFailure(rec, res.Attempts, res.Err, r.p.now())
	r.p.metrics.record(models.StateFailed.String())
	r.p.logger.Error("failed to provision record", "row", rec.Row, "email", rec.Email, "attempts", res.Attempts, "error", res.Err)

	if res.Outcome != retry.Transient {
		r.consecutive = 0
		return nil
	}

	r.consecutive++
	if r.p.abortAfter > 0 && r.consecutive >= r.p.abortAfter {
		return fmt.Errorf("%w: %d consecutive records failed: %v", shared.ErrStoreUnavailable, r.consecutive, res.Err)
	}
	return nil
}

// provisionRecord performs every provisioning step for rec in order. Each step is idempotent.
func (r *Run) provisionRecord(ctx context.Context, rec models.UserRecord) error {
	domain := r.p.domain

	sub, err := r.p.identity.UpsertAccount(ctx, rec, r.common)
	if err != nil {
		return err
	}

	divisionID, err := r.resolvers[models.Division].GetOrCreate(ctx, rec.Division)
	if err != nil {
		return err
	}

	var sectionID int64
	hasSection := strings.TrimSpace(rec.Section) != ""
	if hasSection {
		if sectionID, err = r.resolvers[models.Section].GetOrCreate(ctx, rec.Section); err != nil {
			return err
		}
		if err := r.link(ctx, models.SectionDivisions, sectionID, divisionID); err != nil {
			return err
		}
	}

	var roleID int64
	hasRole := strings.TrimSpace(rec.Role) != ""
	if hasRole {
		if roleID, err = r.resolvers[models.Role].GetOrCreate(ctx, rec.Role); err != nil {
			return err
		}
	}

	var groupID int64
	hasGroup := strings.TrimSpace(rec.UserGroup) != ""
	if hasGroup {
		if groupID, err = r.resolvers[models.UserGroup].GetOrCreate(ctx, rec.UserGroup); err != nil {
			return err
		}
		if hasRole {
			if err := r.link(ctx, models.RoleUserGroups, roleID, groupID); err != nil {
				return err
			}
		}
	}

	userID, err := domain.UpsertUser(ctx, sub, rec)
	if err != nil {
		return err
	}
	if err := r.link(ctx, models.UserDivisions, userID, divisionID); err != nil {
		return err
	}
	if r.hasAgency {
		if err := r.link(ctx, models.UserAgencies, userID, r.agencyID); err != nil {
			return err
		}
	}
	if hasSection {
		if err := r.link(ctx, models.UserSections, userID, sectionID); err != nil {
			return err
		}
	}

	subjectID, err := domain.UpsertSubject(ctx, sub)
	if err != nil {
		return err
	}
	if hasGroup {
		if err := r.link(ctx, models.SubjectUserGroups, subjectID, groupID); err != nil {
			return err
		}
	}

	return nil
}

func (r *Run) link(ctx context.Context, rel models.Relationship, left, right int64) error {
	_, err := r.p.domain.CreateRelationship(ctx, rel, left, right)
	return err
}
