package stage

import (
	"context"

	"genesis/internal/services"
	"genesis/internal/store"
)

// ItemForTask resolves the content item a stage task points at. A missing
// item is a permanent failure: the row was pruned or the payload is stale,
// and retrying cannot bring it back.
func ItemForTask(ctx context.Context, st *store.Store, stg store.Stage, itemID string) (*store.Item, error) {
	item, err := st.GetByID(ctx, itemID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, string(stg), "load item", itemID, err)
	}
	if item == nil {
		return nil, services.Wrap(services.ErrNotFound, string(stg), "load item", "item "+itemID+" does not exist", nil)
	}
	return item, nil
}
