package docstore

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Encode converts a bson-tagged struct into a Document.
func Encode(v any) (Document, error) {
	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("docstore: encode %T: %w", v, err)
	}
	return DecodeRaw(raw)
}

// Decode fills the bson-tagged struct pointed to by v from doc.
func Decode(doc Document, v any) error {
	raw, err := bson.Marshal(map[string]any(doc))
	if err != nil {
		return fmt.Errorf("docstore: decode into %T: %w", v, err)
	}
	if err := bson.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("docstore: decode into %T: %w", v, err)
	}
	return nil
}

// DecodeRaw turns raw BSON bytes into a Document of plain Go values.
func DecodeRaw(raw []byte) (Document, error) {
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("docstore: decode document: %w", err)
	}
	out := make(Document, len(m))
	for k, v := range m {
		out[k] = Plain(v)
	}
	return out, nil
}

// Plain turns nested BSON containers into maps and slices.
func Plain(v any) any {
	switch x := v.(type) {
	case bson.D:
		m := make(map[string]any, len(x))
		for _, e := range x {
			m[e.Key] = Plain(e.Value)
		}
		return m
	case bson.M:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[k] = Plain(e)
		}
		return m
	case bson.A:
		out := make([]any, len(x))
		for i := range x {
			out[i] = Plain(x[i])
		}
		return out
	default:
		return v
	}
}
