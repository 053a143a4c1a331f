package stage

import (
	"context"

	"genesis/internal/store"
)

// Handler describes the contract the worker pool needs from each pipeline
// stage.
type Handler interface {
	// Stage names the pipeline step this handler executes.
	Stage() store.Stage
	// Prepare runs cheap validation and directory setup before Execute.
	Prepare(context.Context, *store.Item) error
	// Execute performs the stage work and reports the outcome through the
	// pipeline coordinator.
	Execute(context.Context, *store.Item) error
	HealthCheck(context.Context) Health
}
