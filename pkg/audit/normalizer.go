package audit

// CascadePersistPlaceholder stands in for a collection member whose
// identifier is not assigned yet
const CascadePersistPlaceholder = "[cascade_persist]"

// Identifiable is a reference to a related entity
type Identifiable interface {
	Identifier() (any, error)
}

// Collection is a set of related entities
type Collection interface {
	Members() []any
}

// Change is the old and new value of a single field
type Change struct {
	Old any
	New any
}

// NormalizeValue converts a change value into a JSON-safe value. Collections
// become ordered identifier lists, references become their identifier, and
// anything else is returned unchanged. Related entities are never walked, so
// cyclic graphs are safe.
func NormalizeValue(value any) any {
	switch v := value.(type) {
	case Collection:
		members := v.Members()
		ids := make([]any, 0, len(members))
		for _, m := range members {
			ids = append(ids, memberIdentifier(m))
		}
		return ids
	case Identifiable:
		id, err := v.Identifier()
		if err != nil {
			return nil
		}
		return id
	default:
		return value
	}
}

func memberIdentifier(member any) any {
	ref, ok := member.(Identifiable)
	if !ok {
		return member
	}
	id, err := ref.Identifier()
	if err != nil || id == nil {
		return CascadePersistPlaceholder
	}
	return id
}

// NormalizeSnapshot normalizes every field of a create or remove snapshot and
// guarantees an id key.
func NormalizeSnapshot(entity any, snapshot map[string]any) map[string]any {
	out := make(map[string]any, len(snapshot)+1)
	for field, value := range snapshot {
		out[field] = NormalizeValue(value)
	}
	injectID(entity, out)
	return out
}

// NormalizeChangeSet turns an update change-set into {field: [new]} pairs and
// guarantees an id key.
func NormalizeChangeSet(entity any, changes map[string]Change) map[string]any {
	out := make(map[string]any, len(changes)+1)
	for field, change := range changes {
		out[field] = []any{NormalizeValue(change.New)}
	}
	injectID(entity, out)
	return out
}

func injectID(entity any, data map[string]any) {
	if _, ok := data["id"]; ok {
		return
	}
	data["id"] = entityIdentifier(entity)
}

func entityIdentifier(entity any) any {
	ref, ok := entity.(Identifiable)
	if !ok {
		return nil
	}
	id, err := ref.Identifier()
	if err != nil {
		return nil
	}
	return id
}
