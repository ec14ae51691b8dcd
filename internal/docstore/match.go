package docstore

import (
	"fmt"
	"reflect"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// NewID returns a fresh document identity.
func NewID() bson.ObjectID {
	return bson.NewObjectID()
}

// IDKey renders a document identity as a stable string key.
func IDKey(id any) string {
	switch v := id.(type) {
	case bson.ObjectID:
		return v.Hex()
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Matches reports whether doc satisfies every equality in f.
// A filter value of nil matches a missing field.
func Matches(doc Document, f Filter) bool {
	for k, want := range f {
		got, ok := doc[k]
		if !ok {
			if want == nil {
				continue
			}
			return false
		}
		if !Equal(got, want) {
			return false
		}
	}
	return true
}

// Equal compares two field values the way the document database does:
// numbers by value, datetimes by instant at millisecond precision.
func Equal(a, b any) bool {
	a, b = normalize(a), normalize(b)
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return reflect.DeepEqual(a, b)
}

func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case float32:
		return float64(x)
	case uint:
		return float64(x)
	case uint32:
		return float64(x)
	case uint64:
		return float64(x)
	case bson.DateTime:
		return x.Time().UTC()
	case time.Time:
		return x.UTC().Truncate(time.Millisecond)
	case Document:
		return map[string]any(x)
	case Filter:
		return map[string]any(x)
	case bson.M:
		return map[string]any(x)
	default:
		return v
	}
}

// Project copies doc keeping only _id and fields. No fields means a full copy.
func Project(doc Document, fields []string) Document {
	if len(fields) == 0 {
		return Clone(doc)
	}
	out := make(Document, len(fields)+1)
	if id, ok := doc[IDField]; ok {
		out[IDField] = id
	}
	for _, f := range fields {
		if v, ok := doc[f]; ok {
			out[f] = cloneValue(v)
		}
	}
	return out
}

// Clone returns a deep copy of doc.
func Clone(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case Document:
		return Clone(x)
	case map[string]any:
		return map[string]any(Clone(Document(x)))
	case bson.M:
		return bson.M(Clone(Document(x)))
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = cloneValue(x[i])
		}
		return out
	case []byte:
		return append([]byte(nil), x...)
	default:
		return v
	}
}

// ApplySet writes every field of set onto doc and reports whether anything changed.
func ApplySet(doc, set Document) bool {
	changed := false
	for k, v := range set {
		if k == IDField {
			continue
		}
		if old, ok := doc[k]; ok && Equal(old, v) {
			continue
		}
		doc[k] = cloneValue(v)
		changed = true
	}
	return changed
}

// UpsertDocument builds the document an upsert inserts: the filter's
// equalities, then set, then onInsert, with a fresh _id unless the filter
// names one.
func UpsertDocument(f Filter, set, onInsert Document) Document {
	doc := make(Document, len(f)+len(set)+len(onInsert)+1)
	for k, v := range f {
		doc[k] = cloneValue(v)
	}
	ApplySet(doc, set)
	ApplySet(doc, onInsert)
	if _, ok := doc[IDField]; !ok {
		doc[IDField] = NewID()
	}
	return doc
}

// UniqueIndex is a set of keys whose combined values must be unique.
type UniqueIndex []string

// Violated reports whether candidate collides with any doc in docs other than
// the one with identity self.
func (ix UniqueIndex) Violated(docs []Document, candidate Document, self any) bool {
	selfKey := IDKey(self)
	for _, d := range docs {
		if IDKey(d[IDField]) == selfKey {
			continue
		}
		same := true
		for _, k := range ix {
			if !Equal(d[k], candidate[k]) {
				same = false
				break
			}
		}
		if same {
			return true
		}
	}
	return false
}
