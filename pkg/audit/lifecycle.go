package audit

import (
	"context"
	"fmt"
	"reflect"
	"sync/atomic"
)

// Lifecycle actions, also the suffix of the "entity.<action>" message keys
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionRemove = "remove"
)

// EntityNamer overrides the type name used in lifecycle messages
type EntityNamer interface {
	EntityName() string
}

// LifecycleListener records entity create, update and remove events under
// CategoryDatabase. Audit records themselves are never audited.
type LifecycleListener struct {
	recorder   Recorder
	uow        UnitOfWork
	translator Translator
	enabled    atomic.Bool
}

// NewLifecycleListener creates an enabled listener
func NewLifecycleListener(recorder Recorder, uow UnitOfWork, translator Translator) *LifecycleListener {
	if translator == nil {
		translator = IdentityTranslator{}
	}
	l := &LifecycleListener{
		recorder:   recorder,
		uow:        uow,
		translator: translator,
	}
	l.enabled.Store(true)
	return l
}

func (l *LifecycleListener) SetEnabled(enabled bool) {
	l.enabled.Store(enabled)
}

func (l *LifecycleListener) Enabled() bool {
	return l.enabled.Load()
}

// AfterCreate records the snapshot of a newly persisted entity
func (l *LifecycleListener) AfterCreate(ctx context.Context, entity any) error {
	if l.skip(entity) {
		return nil
	}
	return l.record(ctx, entity, ActionCreate, NormalizeSnapshot(entity, l.uow.Snapshot(entity)))
}

// BeforeDelete records the snapshot of an entity about to be removed, while
// its identifier is still resolvable
func (l *LifecycleListener) BeforeDelete(ctx context.Context, entity any) error {
	if l.skip(entity) {
		return nil
	}
	return l.record(ctx, entity, ActionRemove, NormalizeSnapshot(entity, l.uow.Snapshot(entity)))
}

// AfterUpdate records only the changed fields of an entity
func (l *LifecycleListener) AfterUpdate(ctx context.Context, entity any) error {
	if l.skip(entity) {
		return nil
	}
	return l.record(ctx, entity, ActionUpdate, NormalizeChangeSet(entity, l.uow.ChangeSet(entity)))
}

func (l *LifecycleListener) skip(entity any) bool {
	if entity == nil || !l.enabled.Load() {
		return true
	}
	_, isRecord := entity.(RecordEntity)
	return isRecord
}

func (l *LifecycleListener) record(ctx context.Context, entity any, action string, data map[string]any) error {
	message := fmt.Sprintf("%s %s %s",
		l.translator.Translate("entity."+action, nil, DomainAudit),
		l.translator.Translate("entity", nil, DomainAudit),
		entityName(entity),
	)
	return l.recorder.Audit(ctx, CategoryDatabase, message, data)
}

func entityName(entity any) string {
	if n, ok := entity.(EntityNamer); ok {
		return n.EntityName()
	}
	t := reflect.TypeOf(entity)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}
