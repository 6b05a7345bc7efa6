package storage

import "fmt"

// Helpers for the conventions shared by the bundled adapters: Match filters
// and document data. Third-party adapters are free to interpret Filter and
// Record.Data differently; the core never calls these.

// ParseMatch interprets a filter as a Match. A nil filter matches all
// records. Any other shape is rejected with an UnsupportedData error.
func ParseMatch(adapter string, filter Filter) (Match, error) {
	switch f := filter.(type) {
	case nil:
		return Match{}, nil
	case Match:
		return f, nil
	case *Match:
		if f == nil {
			return Match{}, nil
		}
		return *f, nil
	default:
		return Match{}, &Error{
			Code:    RetCUnsupportedData,
			Adapter: adapter,
			Msg:     fmt.Sprintf("unsupported filter shape %T, expected storage.Match", filter),
		}
	}
}

// AsDocument interprets record data as a document. Other shapes are rejected
// with an UnsupportedData error so callers can distinguish "this data shape
// is incompatible with the backend" from transient I/O failure.
func AsDocument(adapter string, data interface{}) (map[string]interface{}, error) {
	doc, ok := data.(map[string]interface{})
	if !ok || doc == nil {
		return nil, &Error{
			Code:    RetCUnsupportedData,
			Adapter: adapter,
			Msg:     fmt.Sprintf("unsupported data shape %T, expected a document (map[string]interface{})", data),
		}
	}
	return doc, nil
}

// ValidateKey enforces the record key invariant: keys are never empty.
func ValidateKey(adapter, key string) error {
	if key == "" {
		return &Error{
			Code:    RetCUnsupportedData,
			Adapter: adapter,
			Msg:     "record key must not be empty",
		}
	}
	return nil
}

// MergeDocument applies a shallow document merge of updates onto base and
// returns the merged copy. base is not modified.
func MergeDocument(base, updates map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(base)+len(updates))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range updates {
		merged[k] = v
	}
	return merged
}
