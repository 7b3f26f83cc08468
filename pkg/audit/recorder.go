package audit

import (
	"context"
)

// Recorder writes audit records
type Recorder interface {
	// Audit validates category and persists exactly one record
	Audit(ctx context.Context, category, message string, data map[string]any, opts ...AuditOption) error

	// AuditException records err under CategoryException unless it is excluded
	AuditException(ctx context.Context, err error, url string, opts ...AuditOption) error

	// DefaultPriority is used by RecorderRegistry; higher wins
	DefaultPriority() int
}

type auditOptions struct {
	target string
}

// AuditOption customizes a single Audit or AuditException call
type AuditOption func(*auditOptions)

// WithTarget stores the record using the record type registered under name
func WithTarget(name string) AuditOption {
	return func(o *auditOptions) {
		o.target = name
	}
}

func applyAuditOptions(opts []AuditOption) auditOptions {
	var o auditOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// VoidPriority is the priority of VoidRecorder
const VoidPriority = -100

// VoidRecorder drops every record. It is the baseline when no real recorder
// is registered.
type VoidRecorder struct{}

func (VoidRecorder) Audit(context.Context, string, string, map[string]any, ...AuditOption) error {
	return nil
}

func (VoidRecorder) AuditException(context.Context, error, string, ...AuditOption) error {
	return nil
}

func (VoidRecorder) DefaultPriority() int {
	return VoidPriority
}
