package gateway

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/template-gateway/host"
	"github.com/ruteri/template-gateway/interfaces"
	"github.com/ruteri/template-gateway/state"
	"github.com/ruteri/template-gateway/storage"
	"github.com/ruteri/template-gateway/templates/widget"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointRestore(t *testing.T) {
	ctx := context.Background()
	backend, err := storage.NewFileBackend(t.TempDir(), testLogger())
	require.NoError(t, err)

	tg := newReadyGateway(t)
	instance := tg.deploy(user, "persisted")
	tg.must(tg.CallByFee(ctx, interfaces.NewMsg(user).WithValue(4), instance, widget.MustPack("increment", big.NewInt(3))))

	id, err := tg.Checkpoint(ctx, backend)
	require.NoError(t, err)

	// Same code on the host, empty state.
	restored := New(Config{Log: testLogger()}, state.NewStore(state.NewWorld()), tg.host)
	require.NoError(t, restored.Restore(ctx, backend, id))

	assert.True(t, restored.Initialized())
	assert.Equal(t, tg.Templates(), restored.Templates())
	assert.True(t, restored.IsOperator(instance, user))
	assert.Equal(t, big.NewInt(4), restored.BalanceOf(instance))
	assert.Equal(t, big.NewInt(3), queryCount(t, restored, instance))

	// The restored gateway continues the sequence.
	receipt, err := restored.CallByFee(ctx, interfaces.NewMsg(user), instance, widget.MustPack("increment", big.NewInt(1)))
	require.NoError(t, err)
	last := tg.sink.Records()[len(tg.sink.Records())-1]
	assert.Greater(t, receipt.Seq, last.Seq)
	assert.Equal(t, big.NewInt(4), queryCount(t, restored, instance))
	assert.Equal(t, big.NewInt(3), queryCount(t, tg.Gateway, instance))
}

func TestRestore_Failures(t *testing.T) {
	ctx := context.Background()
	backend, err := storage.NewFileBackend(t.TempDir(), testLogger())
	require.NoError(t, err)

	tg := newReadyGateway(t)
	id, err := tg.Checkpoint(ctx, backend)
	require.NoError(t, err)

	t.Run("missing code", func(t *testing.T) {
		bare := New(Config{Log: testLogger()}, state.NewStore(state.NewWorld()), host.New(host.DefaultDeployer, host.DefaultCosts, testLogger()))
		err := bare.Restore(ctx, backend, id)
		assert.ErrorIs(t, err, interfaces.ErrMissingImplementation)
		assert.False(t, bare.Initialized())
	})

	t.Run("unknown checkpoint", func(t *testing.T) {
		err := tg.Restore(ctx, backend, interfaces.ComputeID([]byte("nothing")))
		assert.ErrorIs(t, err, interfaces.ErrContentNotFound)
	})

	t.Run("wrong content type", func(t *testing.T) {
		archived, err := backend.Store(ctx, []byte(`{"initialized":false}`), interfaces.RecordArchiveType)
		require.NoError(t, err)
		err = tg.Restore(ctx, backend, archived)
		assert.ErrorIs(t, err, interfaces.ErrContentNotFound)
		assert.True(t, tg.Initialized())
	})
}

func queryCount(t *testing.T, g *Gateway, instance common.Address) *big.Int {
	t.Helper()
	ret, err := g.Query(context.Background(), instance, widget.MustPack("count"))
	require.NoError(t, err)
	out, err := widget.Unpack("count", ret)
	require.NoError(t, err)
	return out[0].(*big.Int)
}
