package audit

import (
	"context"
	"time"

	"github.com/platinummonkey/audittrail/pkg/contextkeys"
)

// Storage persists audit records. Save must commit before returning and set
// the record's ID.
type Storage interface {
	Save(ctx context.Context, record RecordEntity) error
}

// Reader is the read model over persisted records
type Reader interface {
	List(ctx context.Context, filter Filter) (*Page, error)
	Get(ctx context.Context, id int64) (*Record, error)
	Stats(ctx context.Context, filter Filter) (*Stats, error)
}

// IdentityProvider resolves the acting principal
type IdentityProvider interface {
	PrincipalIdentifier(ctx context.Context) (string, bool)
}

// RequestContext exposes the main and current request of a context
type RequestContext interface {
	MainRequest(ctx context.Context) *RequestInfo
	CurrentRequest(ctx context.Context) *RequestInfo
}

// Translator resolves message keys in a domain. Unknown keys are returned as-is.
type Translator interface {
	Translate(key string, params map[string]string, domain string) string
}

// Instrumentation receives write outcomes
type Instrumentation interface {
	RecordWritten(category string, d time.Duration)
	RecordFailed(category, reason string)
	ExceptionSkipped(reason string)
}

// ContextIdentity reads the principal set by authentication middleware
type ContextIdentity struct{}

func (ContextIdentity) PrincipalIdentifier(ctx context.Context) (string, bool) {
	return contextkeys.GetPrincipal(ctx)
}

// ContextRequests reads requests stored by RequestMiddleware and WithSubRequest
type ContextRequests struct{}

func (ContextRequests) MainRequest(ctx context.Context) *RequestInfo {
	info, _ := ctx.Value(contextkeys.MainRequestKey).(*RequestInfo)
	return info
}

func (ContextRequests) CurrentRequest(ctx context.Context) *RequestInfo {
	info, _ := ctx.Value(contextkeys.CurrentRequestKey).(*RequestInfo)
	return info
}

// IdentityTranslator returns every key unchanged
type IdentityTranslator struct{}

func (IdentityTranslator) Translate(key string, _ map[string]string, _ string) string {
	return key
}

type noopInstrumentation struct{}

func (noopInstrumentation) RecordWritten(string, time.Duration) {}
func (noopInstrumentation) RecordFailed(string, string)         {}
func (noopInstrumentation) ExceptionSkipped(string)             {}
