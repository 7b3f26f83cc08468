package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/audittrail/pkg/observability"
)

// Translation domains
const (
	DomainMessages = "messages"
	DomainAudit    = "Audit"
)

const tracerName = "github.com/platinummonkey/audittrail/pkg/audit"

// ServiceConfig configures a Service
type ServiceConfig struct {
	Categories           *CategorySet
	Exclusions           ExclusionPolicy
	CaptureRequestBodies bool
	Priority             int
}

// Service is the storage-backed Recorder
type Service struct {
	storage              Storage
	categories           *CategorySet
	exclusions           ExclusionPolicy
	captureRequestBodies bool
	priority             int

	identity        IdentityProvider
	requests        RequestContext
	translator      Translator
	instrumentation Instrumentation
	tracer          trace.Tracer
	logger          *observability.Logger
	now             func() time.Time

	mu      sync.RWMutex
	targets map[string]func() any
}

// ServiceOption customizes a Service
type ServiceOption func(*Service)

func WithIdentity(p IdentityProvider) ServiceOption {
	return func(s *Service) { s.identity = p }
}

func WithRequestContext(rc RequestContext) ServiceOption {
	return func(s *Service) { s.requests = rc }
}

func WithTranslator(t Translator) ServiceOption {
	return func(s *Service) { s.translator = t }
}

func WithInstrumentation(i Instrumentation) ServiceOption {
	return func(s *Service) { s.instrumentation = i }
}

func WithTracer(t trace.Tracer) ServiceOption {
	return func(s *Service) { s.tracer = t }
}

func WithLogger(l *observability.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source for CreatedAt and UpdatedAt
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates a Recorder that persists through storage
func NewService(storage Storage, cfg ServiceConfig, opts ...ServiceOption) *Service {
	if cfg.Categories == nil {
		cfg.Categories = NewCategorySet()
	}

	s := &Service{
		storage:              storage,
		categories:           cfg.Categories,
		exclusions:           cfg.Exclusions,
		captureRequestBodies: cfg.CaptureRequestBodies,
		priority:             cfg.Priority,
		identity:             ContextIdentity{},
		requests:             ContextRequests{},
		translator:           IdentityTranslator{},
		instrumentation:      noopInstrumentation{},
		tracer:               otel.Tracer(tracerName),
		logger:               observability.NopLogger(),
		now:                  time.Now,
		targets:              make(map[string]func() any),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Categories returns the allowed category set
func (s *Service) Categories() *CategorySet {
	return s.categories
}

// Exclusions returns the exclusion policy
func (s *Service) Exclusions() ExclusionPolicy {
	return s.exclusions
}

// RegisterTarget registers an alternate record type under name. The factory
// is invoked once to check that it produces a RecordEntity.
func (s *Service) RegisterTarget(name string, factory func() any) error {
	if name == "" || factory == nil {
		return fmt.Errorf("target name and factory are required")
	}

	probe := factory()
	if entity, ok := probe.(RecordEntity); !ok || entity.AuditRecord() == nil {
		return &UnsupportedTargetTypeError{Target: name, Type: fmt.Sprintf("%T", probe)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets[name] = factory
	return nil
}

func (s *Service) newRecord(target string) (RecordEntity, error) {
	if target == "" {
		return &Record{}, nil
	}

	s.mu.RLock()
	factory, ok := s.targets[target]
	s.mu.RUnlock()
	if !ok {
		return nil, &UnsupportedTargetTypeError{Target: target}
	}

	v := factory()
	entity, ok := v.(RecordEntity)
	if !ok || entity.AuditRecord() == nil {
		return nil, &UnsupportedTargetTypeError{Target: target, Type: fmt.Sprintf("%T", v)}
	}
	return entity, nil
}

// Audit validates category and persists one record
func (s *Service) Audit(ctx context.Context, category, message string, data map[string]any, opts ...AuditOption) (err error) {
	ctx, span := s.tracer.Start(ctx, "audit.Audit", trace.WithAttributes(
		attribute.String("audit.category", category),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if !s.categories.Contains(category) {
		s.instrumentation.RecordFailed(category, "invalid_category")
		return &InvalidCategoryError{Value: category, Allowed: s.categories.Values()}
	}

	o := applyAuditOptions(opts)
	entity, err := s.newRecord(o.target)
	if err != nil {
		s.instrumentation.RecordFailed(category, "unsupported_target")
		return err
	}

	now := s.now()
	record := entity.AuditRecord()
	record.Category = category
	record.CategoryLabel = s.categoryLabel(category)
	record.Message = message
	record.Data = data
	record.UserIdentifier = s.principal(ctx)
	record.IPAddress = s.clientIP(ctx)
	record.CreatedAt = now
	record.UpdatedAt = now

	start := time.Now()
	if err := s.storage.Save(ctx, entity); err != nil {
		s.instrumentation.RecordFailed(category, "storage")
		return &StorageError{Err: err}
	}
	s.instrumentation.RecordWritten(category, time.Since(start))

	span.SetAttributes(attribute.Int64("audit.record_id", record.ID))
	s.logger.For(ctx).WithFields(map[string]interface{}{
		"category":  category,
		"record_id": record.ID,
	}).Debug("audit record written")

	return nil
}

// AuditException records err under CategoryException. Errors carrying an
// excluded status code and excluded urls are skipped without error.
func (s *Service) AuditException(ctx context.Context, err error, url string, opts ...AuditOption) error {
	if err == nil {
		return nil
	}

	if code, ok := StatusCodeOf(err); ok && s.exclusions.ExcludesStatus(code) {
		s.instrumentation.ExceptionSkipped("response_code")
		return nil
	}
	if s.exclusions.ExcludesPath(url) {
		s.instrumentation.ExceptionSkipped("path")
		return nil
	}

	data := exceptionPayload(err, url)
	if s.captureRequestBodies {
		s.attachRequestBodies(ctx, data)
	}

	return s.Audit(ctx, CategoryException, TruncateMessage(err.Error(), MaxMessageLength), data, opts...)
}

// DefaultPriority implements Recorder
func (s *Service) DefaultPriority() int {
	return s.priority
}

func (s *Service) attachRequestBodies(ctx context.Context, data map[string]any) {
	var mainBody string
	if main := s.requests.MainRequest(ctx); main != nil && main.RawBody != "" {
		mainBody = main.RawBody
		data["requestPayload"] = mainBody
	}
	if current := s.requests.CurrentRequest(ctx); current != nil && current.RawBody != "" && current.RawBody != mainBody {
		data["subRequestPayload"] = current.RawBody
	}
}

func (s *Service) categoryLabel(category string) string {
	key := "audit." + category
	if label := s.translator.Translate(key, nil, DomainMessages); label != "" && label != key {
		return label
	}
	return category
}

func (s *Service) principal(ctx context.Context) *string {
	if id, ok := s.identity.PrincipalIdentifier(ctx); ok && id != "" {
		return &id
	}
	return nil
}

func (s *Service) clientIP(ctx context.Context) *string {
	info := s.requests.MainRequest(ctx)
	if info == nil {
		info = s.requests.CurrentRequest(ctx)
	}
	if info == nil || info.ClientIP == "" {
		return nil
	}
	ip := info.ClientIP
	return &ip
}
