package migration

import (
	"context"
	"encoding/json"

	"github.com/polystore/polystore/lib/storage"
	"github.com/polystore/polystore/lib/storage/dispatcher"
)

// recordVersions persists the VersionMarker in a dedicated tracking record
// for backends without a native version concept. It reads and writes the
// record through the dispatcher, so the target adapter must support the
// findOne, create and updateOne operations.
type recordVersions struct {
	storage dispatcher.IStorage
	key     string
}

func (v *recordVersions) Version(ctx context.Context) (uint64, error) {
	rec, err := v.storage.FindOne(ctx, storage.Match{Key: v.key})
	if err != nil {
		return 0, err
	}
	if rec == nil {
		return 0, nil
	}

	doc, ok := rec.Data.(map[string]interface{})
	if !ok {
		return 0, storage.NewError(storage.RetCAdapterFailure, "version tracking record has an unexpected shape")
	}
	return toUint64(doc["version"])
}

func (v *recordVersions) SetVersion(ctx context.Context, version uint64) error {
	doc := map[string]interface{}{"version": version}

	updated, err := v.storage.UpdateOne(ctx, storage.Match{Key: v.key}, doc)
	if err != nil {
		return err
	}
	if updated {
		return nil
	}

	_, err = v.storage.Create(ctx, v.key, doc)
	return err
}

// toUint64 accepts the numeric shapes a round trip through an adapter codec
// can produce.
func toUint64(value interface{}) (uint64, error) {
	switch n := value.(type) {
	case uint64:
		return n, nil
	case int:
		return uint64(n), nil
	case int64:
		return uint64(n), nil
	case float64:
		return uint64(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, storage.NewError(storage.RetCAdapterFailure, "version tracking record holds a non-integer version")
		}
		return uint64(i), nil
	default:
		return 0, storage.NewError(storage.RetCAdapterFailure, "version tracking record holds no numeric version")
	}
}
