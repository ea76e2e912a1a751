package dynamo

import (
	"encoding/json"

	"github.com/go-ges/ges"
)

// marshalOptional JSON-encodes v for storage in a DynamoDB binary attribute,
// returning nil (attribute omitted) for an empty Action/Metadata.
func marshalOptional(v any) ([]byte, error) {
	switch t := v.(type) {
	case *ges.ActionMetadata:
		if t.IsEmpty() {
			return nil, nil
		}
	case ges.Metadata:
		if len(t) == 0 {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func unmarshalAction(raw []byte) (*ges.ActionMetadata, error) {
	var a ges.ActionMetadata
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func unmarshalMetadata(raw []byte) (ges.Metadata, error) {
	var m ges.Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
