package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ruteri/template-gateway/interfaces"
	"github.com/ruteri/template-gateway/state"
)

// Checkpoint stores the committed state in backend and returns its content ID.
func (g *Gateway) Checkpoint(ctx context.Context, backend interfaces.StorageBackend) (interfaces.ContentID, error) {
	g.mu.Lock()
	data, err := g.store.Snapshot()
	g.mu.Unlock()
	if err != nil {
		return interfaces.ContentID{}, err
	}

	id, err := backend.Store(ctx, data, interfaces.CheckpointType)
	if err != nil {
		return interfaces.ContentID{}, fmt.Errorf("storing checkpoint: %w", err)
	}

	g.log.Info("Stored checkpoint",
		slog.String("contentID", id.String()),
		slog.String("backend", backend.Name()),
		slog.Int("size", len(data)))
	return id, nil
}

// Restore replaces the committed state with the checkpoint id from backend.
// Every implementation the checkpoint refers to must already be deployed on
// the gateway's host.
func (g *Gateway) Restore(ctx context.Context, backend interfaces.StorageBackend, id interfaces.ContentID) error {
	data, err := backend.Fetch(ctx, id, interfaces.CheckpointType)
	if err != nil {
		return fmt.Errorf("fetching checkpoint %s: %w", id, err)
	}
	if !interfaces.ComputeID(data).Equal(id) {
		return fmt.Errorf("checkpoint %s: content hash mismatch", id)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	err = g.store.Restore(data, func(w *state.World) error {
		for name, versions := range w.Implementations {
			for version, impl := range versions {
				if _, ok := g.host.Template(impl); !ok {
					return fmt.Errorf("checkpoint %s: %s@%s: %w", id, name, version,
						&interfaces.RegistryError{Kind: interfaces.MissingImplementation, Name: name, Version: version, Target: impl})
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	g.log.Info("Restored checkpoint", slog.String("contentID", id.String()), slog.String("backend", backend.Name()))
	return nil
}
