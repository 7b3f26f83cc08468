package audit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// mapTranslator resolves "domain:key" entries and substitutes %param% placeholders
type mapTranslator map[string]string

func (m mapTranslator) Translate(key string, params map[string]string, domain string) string {
	msg, ok := m[domain+":"+key]
	if !ok {
		return key
	}
	for k, v := range params {
		msg = strings.ReplaceAll(msg, k, v)
	}
	return msg
}

type failingStorage struct {
	err error
}

func (f failingStorage) Save(context.Context, RecordEntity) error {
	return f.err
}

var errDiskFull = errors.New("disk full")

type recordingInstrumentation struct {
	mu      sync.Mutex
	written []string
	failed  []string
	skipped []string
}

func (r *recordingInstrumentation) RecordWritten(category string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.written = append(r.written, category)
}

func (r *recordingInstrumentation) RecordFailed(category, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, category+":"+reason)
}

func (r *recordingInstrumentation) ExceptionSkipped(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped = append(r.skipped, reason)
}

// staticRecorder is a Recorder with a fixed priority that counts calls
type staticRecorder struct {
	priority   int
	mu         sync.Mutex
	audits     []string
	exceptions []error
	err        error
}

func (s *staticRecorder) Audit(_ context.Context, category, message string, _ map[string]any, _ ...AuditOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, category+":"+message)
	return s.err
}

func (s *staticRecorder) AuditException(_ context.Context, err error, _ string, _ ...AuditOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exceptions = append(s.exceptions, err)
	return s.err
}

func (s *staticRecorder) DefaultPriority() int {
	return s.priority
}

var fixedNow = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func fixedClock() time.Time {
	return fixedNow
}

func newTestService(store Storage, opts ...ServiceOption) *Service {
	opts = append([]ServiceOption{WithClock(fixedClock)}, opts...)
	return NewService(store, ServiceConfig{
		Categories: NewCategorySet("BILLING"),
		Exclusions: DefaultExclusionPolicy(),
	}, opts...)
}
