package gateway

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/ruteri/template-gateway/interfaces"
	"github.com/ruteri/template-gateway/state"
)

// CodeVersion is the schema version this code expects. Upgrade brings older
// state up to it.
const CodeVersion uint64 = 2

type migration struct {
	version uint64
	name    string
	apply   func(w *state.World)
}

// migrations run in order; each one runs at most once per world.
var migrations = []migration{
	{version: 1, name: "fee scalars", apply: migrateFees},
	{version: 2, name: "whitelist backfill", apply: backfillWhitelist},
}

// migrateFees sets unset fee scalars to zero.
func migrateFees(w *state.World) {
	if w.DeploymentFee == nil {
		w.DeploymentFee = new(big.Int)
	}
	if w.CallFee == nil {
		w.CallFee = new(big.Int)
	}
}

// backfillWhitelist whitelists instances created before whitelisting
// existed. Explicit entries, including revocations, are kept.
func backfillWhitelist(w *state.World) {
	for _, instance := range w.Instances {
		if _, ok := w.Whitelisted[instance]; !ok {
			w.Whitelisted[instance] = true
		}
	}
}

// Upgrade runs every pending migration and moves the schema version to
// CodeVersion. Anyone may call it; once the schema is current it fails with
// StateError AlreadyUpgraded.
func (g *Gateway) Upgrade(ctx context.Context, msg interfaces.Msg) (*interfaces.Receipt, error) {
	return g.execute(ctx, "upgrade", msg, false, func(a *actionTx) error {
		from := a.w.SchemaVersion
		if from >= CodeVersion {
			return interfaces.ErrAlreadyUpgraded
		}

		for _, m := range migrations {
			if m.version <= from || m.version > CodeVersion {
				continue
			}
			m.apply(a.w)
			g.log.Debug("Applied migration", slog.Uint64("version", m.version), slog.String("name", m.name))
		}
		a.w.SchemaVersion = CodeVersion

		a.emit(interfaces.Record{
			Type:       interfaces.Upgraded,
			SchemaFrom: from,
			SchemaTo:   CodeVersion,
		})
		return nil
	})
}
