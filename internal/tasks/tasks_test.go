package tasks

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/desertthunder/datainserter/internal/models"
	"github.com/desertthunder/datainserter/internal/repositories"
	"github.com/desertthunder/datainserter/internal/retry"
	"github.com/desertthunder/datainserter/internal/shared"
	tu "github.com/desertthunder/datainserter/internal/testing"
)

var connectionLost = &pgconn.PgError{Code: "08006", Message: "connection failure"}

// flakyIdentity fails UpsertAccount for one email a fixed number of times.
type flakyIdentity struct {
	IdentityStore
	email    string
	failures int
	err      error
	calls    int
}

func (f *flakyIdentity) UpsertAccount(ctx context.Context, rec models.UserRecord, common models.CommonFields) (uuid.UUID, error) {
	if f.email == "*" || rec.Email == f.email {
		f.calls++
		if f.failures != 0 {
			f.failures--
			return uuid.Nil, f.err
		}
	}
	return f.IdentityStore.UpsertAccount(ctx, rec, common)
}

// blindIdentity never reports existing emails, forcing every record through provisioning.
type blindIdentity struct {
	IdentityStore
}

func (blindIdentity) FindExisting(context.Context, []string) (models.ExistingEmails, error) {
	return models.ExistingEmails{}, nil
}

// hookedDomain runs a hook after each subject upsert and can fail user upserts for one division.
type hookedDomain struct {
	DomainStore
	afterSubject func()
	failDivision string
	err          error
}

func (h *hookedDomain) UpsertUser(ctx context.Context, sub uuid.UUID, rec models.UserRecord) (int64, error) {
	if h.failDivision != "" && rec.Division == h.failDivision {
		return 0, h.err
	}
	return h.DomainStore.UpsertUser(ctx, sub, rec)
}

func (h *hookedDomain) UpsertSubject(ctx context.Context, sub uuid.UUID) (int64, error) {
	id, err := h.DomainStore.UpsertSubject(ctx, sub)
	if h.afterSubject != nil {
		h.afterSubject()
	}
	return id, err
}

type memorySink struct {
	mu      sync.Mutex
	records []models.DuplicateRecord
}

func (s *memorySink) Append(rec models.DuplicateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

type fixture struct {
	identitySQL *sql.DB
	domainSQL   *sql.DB
	identityDB  *repositories.IdentityRepository
	domainDB    *repositories.DomainRepository
	identity    IdentityStore
	domain      DomainStore
	sink        *memorySink
	registry    *prometheus.Registry
	metrics     *Metrics
	retries     int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	identityDB, domainDB := tu.OpenStores(t)
	reg := prometheus.NewRegistry()

	f := &fixture{
		identitySQL: identityDB,
		domainSQL:   domainDB,
		identityDB:  repositories.NewIdentityRepository(identityDB),
		domainDB:    repositories.NewDomainRepository(domainDB),
		sink:        &memorySink{},
		registry:    reg,
		metrics:     NewMetrics(reg),
	}
	f.identity = f.identityDB
	f.domain = f.domainDB
	return f
}

func (f *fixture) provisioner(t *testing.T, mutate ...func(*ProvisionerOpts)) *Provisioner {
	t.Helper()
	opts := ProvisionerOpts{
		Identity:   f.identity,
		Domain:     f.domain,
		Duplicates: f.sink,
		Policy: retry.Policy{
			MaxAttempts: 3,
			OnRetry:     func(int, time.Duration, error) { f.retries++ },
		},
		ParallelPreload: true,
		Metrics:         f.metrics,
		Logger:          shared.NewLogger(io.Discard),
	}
	for _, m := range mutate {
		m(&opts)
	}

	p, err := NewProvisioner(opts)
	if err != nil {
		t.Fatalf("failed to create provisioner: %v", err)
	}
	return p
}

func (f *fixture) run(t *testing.T, p *Provisioner) *Run {
	t.Helper()
	run, err := p.NewRun(context.Background(), models.CommonFields{PasswordHash: "hash", SecurityStamp: "s", ConcurrencyStamp: "c"}, nil)
	if err != nil {
		t.Fatalf("failed to start run: %v", err)
	}
	return run
}

func (f *fixture) count(t *testing.T, table string) int {
	t.Helper()
	n, err := f.domainDB.CountRows(context.Background(), table)
	if err != nil {
		t.Fatalf("failed to count %s: %v", table, err)
	}
	return n
}

func sampleBatch() []models.UserRecord {
	return []models.UserRecord{
		{Row: 3, Name: "Ada Lovelace", Email: "ada@example.com", Role: "Senior Data Provider 3", UserGroup: "Provider Group", Section: "Ledger", Division: "Finance"},
		{Row: 4, Name: "Grace Hopper", Email: "grace@example.com", Role: "Data Approver", UserGroup: "Second Approver Group", Division: "ALL", ControlLevel: models.ControlOrganization},
		{Row: 5, Name: "Alan Turing", Email: "alan@example.com", Role: "Custom Auditor", UserGroup: "Admin Group", Section: "ledger", Division: "finance"},
	}
}

func TestProvisionerProcess(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicates, transient retry and successes", func(t *testing.T) {
		f := newFixture(t)
		for _, email := range []string{"dup1@example.com", "DUP2@example.com"} {
			if _, err := f.identityDB.UpsertAccount(ctx, models.UserRecord{Name: email, Email: email}, models.CommonFields{}); err != nil {
				t.Fatalf("failed to seed account: %v", err)
			}
		}
		flaky := &flakyIdentity{IdentityStore: f.identityDB, email: "grace@example.com", failures: 1, err: connectionLost}
		f.identity = flaky

		batch := append(sampleBatch(),
			models.UserRecord{Row: 6, Name: "Dup One", Email: "Dup1@Example.com", Division: "Finance"},
			models.UserRecord{Row: 7, Name: "Dup Two", Email: "dup2@example.com", Division: "Finance"},
		)

		result, err := f.run(t, f.provisioner(t)).Process(ctx, batch, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if result.SuccessfulRecords != 3 || result.DuplicateRecords != 2 || result.FailedRecords != 0 {
			t.Fatalf("unexpected counters: success=%d duplicates=%d failed=%d",
				result.SuccessfulRecords, result.DuplicateRecords, result.FailedRecords)
		}
		if f.retries != 1 {
			t.Errorf("expected exactly one retry, got %d", f.retries)
		}
		if flaky.calls != 2 {
			t.Errorf("expected two identity attempts for the flaky record, got %d", flaky.calls)
		}
		if got := result.Outcomes[1]; got.Row != 4 || got.Attempts != 2 || got.State != models.StateSucceeded {
			t.Errorf("unexpected outcome for flaky record: %+v", got)
		}
		if got := testutil.ToFloat64(f.metrics.retries); got != 1 {
			t.Errorf("expected retries_total 1, got %v", got)
		}
		if got := testutil.ToFloat64(f.metrics.records.WithLabelValues("duplicate")); got != 2 {
			t.Errorf("expected 2 duplicate records in metrics, got %v", got)
		}

		if len(f.sink.records) != 2 {
			t.Fatalf("expected 2 audited duplicates, got %d", len(f.sink.records))
		}
		if f.sink.records[0].Row != 6 || f.sink.records[0].ExistingID == uuid.Nil {
			t.Errorf("unexpected audit record: %+v", f.sink.records[0])
		}

		accounts, err := f.identityDB.CountAccounts(ctx)
		if err != nil {
			t.Fatalf("failed to count accounts: %v", err)
		}
		if accounts != 5 {
			t.Errorf("expected duplicates to be left untouched (5 accounts), got %d", accounts)
		}
	})

	t.Run("accounts normalized by another writer are duplicates", func(t *testing.T) {
		f := newFixture(t)
		existing := uuid.New()
		if _, err := f.identitySQL.Exec(
			`INSERT INTO "AspNetUsers" ("Id", "UserName", "NormalizedUserName", "Email", "NormalizedEmail") VALUES ($1, $2, $3, $4, $5)`,
			existing.String(), "Weiß", "WEIß", "straße@example.de", "STRAßE@EXAMPLE.DE",
		); err != nil {
			t.Fatalf("failed to seed account: %v", err)
		}

		batch := []models.UserRecord{{Row: 3, Name: "Jonas Weiß", Email: "Straße@Example.de", Division: "Finance"}}
		result, err := f.run(t, f.provisioner(t)).Process(ctx, batch, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.DuplicateRecords != 1 || result.SuccessfulRecords != 0 {
			t.Fatalf("expected the record to be a duplicate, got success=%d duplicates=%d",
				result.SuccessfulRecords, result.DuplicateRecords)
		}
		if len(f.sink.records) != 1 || f.sink.records[0].ExistingID != existing {
			t.Errorf("unexpected audit records: %+v", f.sink.records)
		}

		id, err := f.identityDB.UpsertAccount(ctx, models.UserRecord{Name: "weiß", Email: "other@example.de"}, models.CommonFields{})
		if err != nil {
			t.Fatalf("failed to upsert account: %v", err)
		}
		if id != existing {
			t.Errorf("expected user name conflict to reuse %s, got %s", existing, id)
		}
		if accounts, err := f.identityDB.CountAccounts(ctx); err != nil || accounts != 1 {
			t.Errorf("expected a single account, got %d (err %v)", accounts, err)
		}
	})

	t.Run("references are canonicalized and deduplicated", func(t *testing.T) {
		f := newFixture(t)
		run := f.run(t, f.provisioner(t))

		if _, err := run.Process(ctx, sampleBatch(), nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		roles, err := f.domainDB.ListReferences(ctx, models.Role)
		if err != nil {
			t.Fatalf("failed to list roles: %v", err)
		}
		want := []string{"Data Provider 3", "Data Approver", "Custom Auditor"}
		if len(roles) != len(want) {
			t.Fatalf("expected roles %v, got %+v", want, roles)
		}
		for i, name := range want {
			if roles[i].Name != name {
				t.Errorf("role %d: expected %q, got %q", i, name, roles[i].Name)
			}
		}

		groups, err := f.domainDB.ListReferences(ctx, models.UserGroup)
		if err != nil {
			t.Fatalf("failed to list groups: %v", err)
		}
		if len(groups) != 3 || groups[0].Name != "Data Provider Group" || groups[1].Name != "Data Approver Group" {
			t.Errorf("unexpected groups: %+v", groups)
		}

		if n := f.count(t, "Divisions"); n != 2 {
			t.Errorf("expected Finance and ALL divisions, got %d", n)
		}
		if n := f.count(t, "Sections"); n != 1 {
			t.Errorf("expected one case-insensitive section, got %d", n)
		}
		if n := f.count(t, "SectionDivisions"); n != 1 {
			t.Errorf("expected one section division link, got %d", n)
		}
		if n := f.count(t, "UserSections"); n != 2 {
			t.Errorf("expected two user section links, got %d", n)
		}
		if n := f.count(t, "UserAgencies"); n != 3 {
			t.Errorf("expected every user linked to the default agency, got %d", n)
		}
		if run.Resolver(models.Division).Len() != 2 {
			t.Errorf("expected resolver cache to hold 2 divisions, got %d", run.Resolver(models.Division).Len())
		}
	})

	t.Run("division ALL grants api admin", func(t *testing.T) {
		f := newFixture(t)
		batch := []models.UserRecord{{Row: 1, Name: "Root", Email: "root@example.com", Division: "all", Role: "Administrator"}}

		if _, err := f.run(t, f.provisioner(t)).Process(ctx, batch, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var admin bool
		var level int
		if err := f.domainSQL.QueryRow(`SELECT "IsApiAdmin", "ControlLevel" FROM "Users"`).Scan(&admin, &level); err != nil {
			t.Fatalf("failed to read user: %v", err)
		}
		if !admin {
			t.Error("expected division ALL to grant api admin")
		}
		if level != int(models.ControlSection) {
			t.Errorf("expected default control level, got %d", level)
		}
	})

	t.Run("re-running a batch is idempotent", func(t *testing.T) {
		f := newFixture(t)
		f.identity = blindIdentity{IdentityStore: f.identityDB}
		p := f.provisioner(t)

		tables := []string{
			"Divisions", "Sections", "Roles", "UserGroups", "Users", "Subjects",
			"SectionDivisions", "RoleUserGroups", "UserDivisions", "UserAgencies", "UserSections", "SubjectUserGroups",
		}

		if _, err := f.run(t, p).Process(ctx, sampleBatch(), nil); err != nil {
			t.Fatalf("first run failed: %v", err)
		}
		before := make(map[string]int, len(tables))
		for _, table := range tables {
			before[table] = f.count(t, table)
		}

		result, err := f.run(t, p).Process(ctx, sampleBatch(), nil)
		if err != nil {
			t.Fatalf("second run failed: %v", err)
		}
		if result.SuccessfulRecords != 3 {
			t.Errorf("expected every record to succeed again, got %d", result.SuccessfulRecords)
		}
		for _, table := range tables {
			if after := f.count(t, table); after != before[table] {
				t.Errorf("%s: expected %d rows after re-run, got %d", table, before[table], after)
			}
		}

		accounts, err := f.identityDB.CountAccounts(ctx)
		if err != nil {
			t.Fatalf("failed to count accounts: %v", err)
		}
		if accounts != 3 {
			t.Errorf("expected 3 accounts, got %d", accounts)
		}
	})

	t.Run("permanent failure is isolated", func(t *testing.T) {
		f := newFixture(t)
		f.domain = &hookedDomain{
			DomainStore:  f.domainDB,
			failDivision: "ALL",
			err:          &pgconn.PgError{Code: "23514", Message: "check constraint"},
		}

		result, err := f.run(t, f.provisioner(t)).Process(ctx, sampleBatch(), nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.SuccessfulRecords != 2 || result.FailedRecords != 1 {
			t.Fatalf("unexpected counters: %+v", result)
		}
		if f.retries != 0 {
			t.Errorf("expected no retries for a permanent error, got %d", f.retries)
		}
		if len(result.Errors) != 1 || result.Errors[0].Row != 4 || result.Errors[0].Email != "grace@example.com" {
			t.Errorf("unexpected errors: %+v", result.Errors)
		}
		if result.Outcomes[1].Attempts != 1 {
			t.Errorf("expected a single attempt, got %d", result.Outcomes[1].Attempts)
		}
	})

	t.Run("exhausted transient retries fail the record", func(t *testing.T) {
		f := newFixture(t)
		f.identity = &flakyIdentity{IdentityStore: f.identityDB, email: "ada@example.com", failures: -1, err: connectionLost}

		result, err := f.run(t, f.provisioner(t)).Process(ctx, sampleBatch(), nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.FailedRecords != 1 || result.SuccessfulRecords != 2 {
			t.Fatalf("unexpected counters: %+v", result)
		}
		if result.Outcomes[0].Attempts != 4 || f.retries != 3 {
			t.Errorf("expected 4 attempts and 3 retries, got %d and %d", result.Outcomes[0].Attempts, f.retries)
		}
	})

	t.Run("consecutive connectivity failures abort the run", func(t *testing.T) {
		f := newFixture(t)
		f.identity = &flakyIdentity{IdentityStore: f.identityDB, email: "*", failures: -1, err: connectionLost}
		p := f.provisioner(t, func(o *ProvisionerOpts) {
			o.AbortAfter = 2
			o.Policy.MaxAttempts = 1
		})

		result, err := f.run(t, p).Process(ctx, sampleBatch(), nil)
		if !errors.Is(err, shared.ErrStoreUnavailable) {
			t.Fatalf("expected ErrStoreUnavailable, got %v", err)
		}
		if result == nil || result.FailedRecords != 2 || result.Processed() != 2 {
			t.Errorf("expected partial result with 2 failures, got %+v", result)
		}
	})

	t.Run("cancellation stops between records", func(t *testing.T) {
		f := newFixture(t)
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		f.domain = &hookedDomain{DomainStore: f.domainDB, afterSubject: cancel}

		result, err := f.run(t, f.provisioner(t)).Process(runCtx, sampleBatch(), nil)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if result.SuccessfulRecords != 1 || result.Processed() != 1 {
			t.Errorf("expected the in-flight record to finish alone, got %+v", result)
		}
		if n := f.count(t, "SubjectUserGroups"); n != 1 {
			t.Errorf("expected the in-flight record to be fully provisioned, got %d subject links", n)
		}
	})

	t.Run("records without optional references", func(t *testing.T) {
		f := newFixture(t)
		batch := []models.UserRecord{{Row: 2, Name: "Plain", Email: "plain@example.com", Division: "Ops"}}

		result, err := f.run(t, f.provisioner(t, func(o *ProvisionerOpts) {
			o.ParallelPreload = false
			o.RateLimit = 1000
		})).Process(ctx, batch, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.SuccessfulRecords != 1 {
			t.Fatalf("expected success, got %+v", result)
		}
		for _, table := range []string{"Sections", "Roles", "UserGroups", "SectionDivisions", "RoleUserGroups", "UserSections", "SubjectUserGroups"} {
			if n := f.count(t, table); n != 0 {
				t.Errorf("%s: expected no rows, got %d", table, n)
			}
		}
		if n := f.count(t, "UserDivisions"); n != 1 {
			t.Errorf("expected one user division link, got %d", n)
		}
	})

	t.Run("progress updates", func(t *testing.T) {
		f := newFixture(t)
		progress := make(chan ProgressUpdate, 32)

		run, err := f.provisioner(t).NewRun(ctx, models.CommonFields{}, progress)
		if err != nil {
			t.Fatalf("failed to start run: %v", err)
		}
		if _, err := run.Process(ctx, sampleBatch(), progress); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		close(progress)

		var phases []Phase
		var last ProgressUpdate
		for u := range progress {
			phases = append(phases, u.Phase)
			last = u
		}
		if len(phases) != 4+2+3+1 {
			t.Errorf("expected 10 updates, got %d (%v)", len(phases), phases)
		}
		if last.Phase != Complete || last.Step != 3 || last.Total != 3 {
			t.Errorf("unexpected final update: %+v", last)
		}
	})

	t.Run("empty batch", func(t *testing.T) {
		f := newFixture(t)
		result, err := f.run(t, f.provisioner(t)).Process(ctx, nil, nil)
		if err != nil || result.TotalRecords != 0 || result.Processed() != 0 {
			t.Errorf("expected empty result, got %+v, %v", result, err)
		}
		if got := testutil.ToFloat64(f.metrics.batches); got != 1 {
			t.Errorf("expected one batch counted, got %v", got)
		}
	})
}

func TestNewProvisioner(t *testing.T) {
	if _, err := NewProvisioner(ProvisionerOpts{}); !errors.Is(err, shared.ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
}

func TestPhaseString(t *testing.T) {
	for phase, want := range map[Phase]string{
		Preload:          "preload",
		DetectDuplicates: "detect_duplicates",
		Provision:        "provision",
		Complete:         "complete",
		Phase(99):        "",
	} {
		if got := phase.String(); got != want {
			t.Errorf("Phase(%d).String() = %q, want %q", int(phase), got, want)
		}
	}
}

func TestWriteTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.record("succeeded")

	path := t.TempDir() + "/datainserter.prom"
	if err := WriteTextfile(path, reg); err != nil {
		t.Fatalf("failed to write textfile: %v", err)
	}

	content := tu.MustReadFile(t, path)
	if !strings.Contains(content, `datainserter_records_total{outcome="succeeded"} 1`) {
		t.Errorf("expected records_total in textfile, got:\n%s", content)
	}
}
