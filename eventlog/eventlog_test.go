package eventlog

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/template-gateway/interfaces"
	"github.com/ruteri/template-gateway/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "nested", "records.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

var (
	instanceA = common.HexToAddress("0xaaaa")
	instanceB = common.HexToAddress("0xbbbb")
)

func sampleRecords() []interfaces.Record {
	return []interfaces.Record{
		{Seq: 1, Index: 0, Type: interfaces.Initialized, Account: common.HexToAddress("0x01")},
		{Seq: 1, Index: 1, Type: interfaces.RoleGranted, Role: common.HexToHash("0x02"), Account: common.HexToAddress("0x01")},
		{Seq: 2, Index: 0, Type: interfaces.TemplateDeployed, Name: "Widget", Version: 1_000_000, Instance: instanceA},
		{Seq: 3, Index: 0, Type: interfaces.TemplateDeployed, Name: "Widget", Version: 1_000_000, Instance: instanceB},
		{Seq: 4, Index: 0, Type: interfaces.WhitelistChanged, Instance: instanceA},
		{Seq: 5, Index: 0, Type: interfaces.FeeChanged, Fee: interfaces.CallFee, Amount: big.NewInt(12345)},
	}
}

func TestOpen_Migrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.db")

	store, err := Open(path, testLogger())
	require.NoError(t, err)
	require.NoError(t, store.Append(context.Background(), sampleRecords()[:1]))
	require.NoError(t, store.Close())

	// Reopening an up-to-date database is a no-op.
	store, err = Open(path, testLogger())
	require.NoError(t, err)
	defer store.Close()

	records, err := store.List(context.Background(), interfaces.RecordFilter{})
	require.NoError(t, err)
	assert.Len(t, records, 1)

	_, err = Open(" ", testLogger())
	assert.Error(t, err)
}

func TestList_Filters(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, sampleRecords()[:3]))
	require.NoError(t, store.Append(ctx, sampleRecords()[3:]))

	tests := []struct {
		name     string
		filter   interfaces.RecordFilter
		expected []interfaces.RecordType
	}{
		{
			name:     "all",
			filter:   interfaces.RecordFilter{},
			expected: []interfaces.RecordType{interfaces.Initialized, interfaces.RoleGranted, interfaces.TemplateDeployed, interfaces.TemplateDeployed, interfaces.WhitelistChanged, interfaces.FeeChanged},
		},
		{
			name:     "by type",
			filter:   interfaces.RecordFilter{Type: interfaces.TemplateDeployed},
			expected: []interfaces.RecordType{interfaces.TemplateDeployed, interfaces.TemplateDeployed},
		},
		{
			name:     "by instance",
			filter:   interfaces.RecordFilter{Instance: &instanceA},
			expected: []interfaces.RecordType{interfaces.TemplateDeployed, interfaces.WhitelistChanged},
		},
		{
			name:     "after seq with limit",
			filter:   interfaces.RecordFilter{AfterSeq: 1, Limit: 2},
			expected: []interfaces.RecordType{interfaces.TemplateDeployed, interfaces.TemplateDeployed},
		},
		{
			name:   "nothing newer",
			filter: interfaces.RecordFilter{AfterSeq: 5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := store.List(ctx, tt.filter)
			require.NoError(t, err)
			var types []interfaces.RecordType
			for _, r := range records {
				types = append(types, r.Type)
			}
			assert.Equal(t, tt.expected, types)
		})
	}

	records, err := store.List(ctx, interfaces.RecordFilter{Type: interfaces.FeeChanged})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "12345", records[0].Amount.String())
	assert.Equal(t, interfaces.CallFee, records[0].Fee)

	seq, err := store.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), seq)
}

func TestAppend_ReplacesSameSequence(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	seq, err := store.LastSeq(ctx)
	require.NoError(t, err)
	assert.Zero(t, seq)

	require.NoError(t, store.Append(ctx, []interfaces.Record{{Seq: 7, Type: interfaces.WhitelistChanged, Instance: instanceA}}))
	require.NoError(t, store.Append(ctx, []interfaces.Record{{Seq: 7, Type: interfaces.WhitelistChanged, Instance: instanceA, Allowed: true}}))

	records, err := store.List(ctx, interfaces.RecordFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Allowed)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, store.Append(cancelled, sampleRecords()), context.Canceled)
}

func TestArchive(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	backend, err := storage.NewFileBackend(t.TempDir(), testLogger())
	require.NoError(t, err)

	_, err = store.Archive(ctx, backend)
	assert.ErrorIs(t, err, ErrNothingToArchive)

	require.NoError(t, store.Append(ctx, sampleRecords()[:4]))
	first, err := store.Archive(ctx, backend)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first.FirstSeq)
	assert.Equal(t, uint64(3), first.LastSeq)
	assert.Equal(t, 4, first.Count)

	_, err = store.Archive(ctx, backend)
	assert.ErrorIs(t, err, ErrNothingToArchive)

	require.NoError(t, store.Append(ctx, sampleRecords()[4:]))
	second, err := store.Archive(ctx, backend)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), second.FirstSeq)
	assert.Equal(t, 2, second.Count)

	archives, err := store.Archives(ctx)
	require.NoError(t, err)
	require.Len(t, archives, 2)
	assert.Equal(t, first.ContentID, archives[0].ContentID)
	assert.Equal(t, second.ContentID, archives[1].ContentID)

	exported, err := ReadArchive(ctx, backend, first.ContentID)
	require.NoError(t, err)
	require.Len(t, exported, 4)
	assert.Equal(t, instanceB, exported[3].Instance)
}
