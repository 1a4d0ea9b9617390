package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"pdv/backend/internal/cache"
	"pdv/backend/internal/domain"
	"pdv/backend/internal/events"
	"pdv/backend/internal/metrics"
	"pdv/backend/internal/store"
	"pdv/backend/internal/telemetry"
	"pdv/backend/internal/xid"
)

const (
	defaultUnitOfWorkTimeout = 5 * time.Second
	defaultSaleCodePrefix    = "EDL"
	defaultSaleCodeAttempts  = 5
	defaultReportCacheTTL    = 30 * time.Second
	sideEffectTimeout        = 2 * time.Second
)

var errUnauthenticated = fmt.Errorf("%w: authentication required", domain.ErrForbidden)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Authorizer turns a bearer credential into the caller it identifies. The
// service trusts the returned pair as is.
type Authorizer interface {
	Resolve(ctx context.Context, token string) (domain.Actor, error)
}

type Options struct {
	Cache             cache.ReportCache
	Publisher         events.Publisher
	Metrics           *metrics.Metrics
	Logger            *zerolog.Logger
	UnitOfWorkTimeout time.Duration
	SaleCodePrefix    string
	SaleCodeAttempts  int
	ReportTopN        int
	ReportCacheTTL    time.Duration
}

type Service struct {
	repo         store.Repository
	cache        cache.ReportCache
	publisher    events.Publisher
	metrics      *metrics.Metrics
	log          zerolog.Logger
	validate     *validator.Validate
	uowTimeout   time.Duration
	codePrefix   string
	codeAttempts int
	topN         int
	cacheTTL     time.Duration

	newCode func(prefix string, now time.Time) string
	now     func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	if opts.Cache == nil {
		opts.Cache = cache.NoopReportCache{}
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Noop{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New("pdv")
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	if opts.UnitOfWorkTimeout <= 0 {
		opts.UnitOfWorkTimeout = defaultUnitOfWorkTimeout
	}
	opts.SaleCodePrefix = strings.ToUpper(strings.TrimSpace(opts.SaleCodePrefix))
	if opts.SaleCodePrefix == "" {
		opts.SaleCodePrefix = defaultSaleCodePrefix
	}
	if opts.SaleCodeAttempts < 1 {
		opts.SaleCodeAttempts = defaultSaleCodeAttempts
	}
	if opts.ReportTopN < 1 || opts.ReportTopN > domain.MaxTopN {
		opts.ReportTopN = domain.DefaultTopN
	}
	if opts.ReportCacheTTL <= 0 {
		opts.ReportCacheTTL = defaultReportCacheTTL
	}

	return &Service{
		repo:         repo,
		cache:        opts.Cache,
		publisher:    opts.Publisher,
		metrics:      opts.Metrics,
		log:          logger.With().Str("component", "service").Logger(),
		validate:     newValidator(),
		uowTimeout:   opts.UnitOfWorkTimeout,
		codePrefix:   opts.SaleCodePrefix,
		codeAttempts: opts.SaleCodeAttempts,
		topN:         opts.ReportTopN,
		cacheTTL:     opts.ReportCacheTTL,
		newCode:      xid.SaleCode,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.ID == "" || actor.Role == domain.RoleAnonymous {
		return domain.Actor{}, errUnauthenticated
	}
	return actor, nil
}

// authorize returns the caller when allowed accepts its role.
func authorize(ctx context.Context, allowed func(domain.Role) bool, action string) (domain.Actor, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	if !allowed(actor.Role) {
		return domain.Actor{}, fmt.Errorf("%w: role %s may not %s", domain.ErrForbidden, actor.Role, action)
	}
	return actor, nil
}

// withinUnitOfWork runs fn atomically under the unit-of-work budget. Running
// out of time, or losing the caller, surfaces as a transient error.
func (s *Service) withinUnitOfWork(ctx context.Context, op string, fn func(ctx context.Context, tx store.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.uowTimeout)
	defer cancel()
	ctx, span := telemetry.Tracer().Start(ctx, "uow."+op)

	start := time.Now()
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		return fn(ctx, tx)
	})
	if err != nil && domain.Kind(err) == nil && ctx.Err() != nil {
		err = domain.Transient(err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		err = domain.Transient(err)
	}

	s.metrics.ObserveUnitOfWork(op, outcome(err), time.Since(start))
	telemetry.End(span, err)
	return err
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return telemetry.Tracer().Start(ctx, "service."+name, trace.WithAttributes(attrs...))
}

func outcome(err error) string {
	switch domain.Kind(err) {
	case nil:
		if err != nil {
			return "error"
		}
		return "ok"
	case domain.ErrValidation:
		return "validation"
	case domain.ErrNotFound:
		return "not_found"
	case domain.ErrConflict:
		return "conflict"
	case domain.ErrForbidden:
		return "forbidden"
	default:
		return "transient"
	}
}

// afterCommit runs the best-effort side effects of a committed unit of work.
// They outlive the request context and never change the returned result.
func (s *Service) afterCommit(ctx context.Context, invalidateReports bool, evts ...events.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	if invalidateReports {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.log.Warn().Err(err).Msg("report cache invalidation failed")
		}
	}
	if len(evts) == 0 {
		return
	}

	status := "published"
	if err := s.publisher.Publish(ctx, evts...); err != nil {
		status = "failed"
		s.log.Warn().Err(err).Str("event_type", evts[0].Type).Int("events", len(evts)).Msg("event publish failed")
	}
	for _, evt := range evts {
		s.metrics.RecordEvent(evt.Type, status)
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// check validates req against its struct tags and reports the first
// offending field.
func (s *Service) check(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return domain.NewValidationError("", err.Error())
	}
	fe := fieldErrs[0]
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	return domain.NewValidationError(field, describe(fe))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must have at least " + fe.Param() + " entries or characters"
	case "max":
		return "must have at most " + fe.Param() + " entries or characters"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "url":
		return "must be a valid URL"
	default:
		return "is invalid"
	}
}

// clampLimit applies fallback to non-positive limits and caps the rest.
func clampLimit(limit int, fallback int, max int) int {
	if limit < 1 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}

func trimmedOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}
