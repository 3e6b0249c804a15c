package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ruteri/template-gateway/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// replica is an in-memory backend that can be taken offline or made to fail.
type replica struct {
	name     string
	down     bool
	fetchErr error
	storeErr error
	content  map[interfaces.ContentType]map[interfaces.ContentID][]byte
	fetches  int
}

func newReplica(name string) *replica {
	return &replica{name: name, content: map[interfaces.ContentType]map[interfaces.ContentID][]byte{}}
}

func (r *replica) holding(contentType interfaces.ContentType, data []byte) *replica {
	if r.content[contentType] == nil {
		r.content[contentType] = map[interfaces.ContentID][]byte{}
	}
	r.content[contentType][interfaces.ComputeID(data)] = data
	return r
}

func (r *replica) Fetch(_ context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	r.fetches++
	if r.fetchErr != nil {
		return nil, r.fetchErr
	}
	data, ok := r.content[contentType][id]
	if !ok {
		return nil, interfaces.ErrContentNotFound
	}
	return data, nil
}

func (r *replica) Store(_ context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	if r.storeErr != nil {
		return interfaces.ContentID{}, r.storeErr
	}
	r.holding(contentType, data)
	return interfaces.ComputeID(data), nil
}

func (r *replica) Available(context.Context) bool { return !r.down }

func (r *replica) Name() string { return r.name }

func (r *replica) LocationURI() string { return "mem://" + r.name }

func backendsOf(replicas ...*replica) []interfaces.StorageBackend {
	backends := make([]interfaces.StorageBackend, 0, len(replicas))
	for _, r := range replicas {
		backends = append(backends, r)
	}
	return backends
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var (
	checkpoint = []byte(`{"seq":42,"initialized":true}`)
	archive    = []byte(`[{"seq":1,"type":"Initialized"}]`)
	errDisk    = errors.New("disk failure")
)

func TestMultiStorageBackend_Fetch(t *testing.T) {
	tests := []struct {
		name        string
		contentType interfaces.ContentType
		data        []byte
		replicas    func() []*replica
		wantFrom    string
		check       func(t *testing.T, err error)
	}{
		{
			name:        "checkpoint from first replica",
			contentType: interfaces.CheckpointType,
			data:        checkpoint,
			replicas: func() []*replica {
				return []*replica{
					newReplica("primary").holding(interfaces.CheckpointType, checkpoint),
					newReplica("secondary").holding(interfaces.CheckpointType, checkpoint),
				}
			},
			wantFrom: "primary",
		},
		{
			name:        "archive falls back past a replica without it",
			contentType: interfaces.RecordArchiveType,
			data:        archive,
			replicas: func() []*replica {
				return []*replica{
					newReplica("primary").holding(interfaces.CheckpointType, archive),
					newReplica("secondary").holding(interfaces.RecordArchiveType, archive),
				}
			},
			wantFrom: "secondary",
		},
		{
			name:        "offline replica is skipped",
			contentType: interfaces.CheckpointType,
			data:        checkpoint,
			replicas: func() []*replica {
				offline := newReplica("primary").holding(interfaces.CheckpointType, checkpoint)
				offline.down = true
				return []*replica{offline, newReplica("secondary").holding(interfaces.CheckpointType, checkpoint)}
			},
			wantFrom: "secondary",
		},
		{
			name:        "failing replica is skipped",
			contentType: interfaces.CheckpointType,
			data:        checkpoint,
			replicas: func() []*replica {
				failing := newReplica("primary")
				failing.fetchErr = errDisk
				return []*replica{failing, newReplica("secondary").holding(interfaces.CheckpointType, checkpoint)}
			},
			wantFrom: "secondary",
		},
		{
			name:        "not found everywhere",
			contentType: interfaces.CheckpointType,
			data:        checkpoint,
			replicas: func() []*replica {
				return []*replica{newReplica("primary"), newReplica("secondary")}
			},
			check: func(t *testing.T, err error) {
				assert.Same(t, interfaces.ErrContentNotFound, err)
			},
		},
		{
			name:        "not found and failing",
			contentType: interfaces.RecordArchiveType,
			data:        archive,
			replicas: func() []*replica {
				failing := newReplica("secondary")
				failing.fetchErr = errDisk
				return []*replica{newReplica("primary"), failing}
			},
			check: func(t *testing.T, err error) {
				assert.NotSame(t, interfaces.ErrContentNotFound, err)
				assert.ErrorIs(t, err, errDisk)
				assert.ErrorIs(t, err, interfaces.ErrContentNotFound)
				assert.ErrorContains(t, err, "primary")
				assert.ErrorContains(t, err, "secondary")
			},
		},
		{
			name:        "every replica offline",
			contentType: interfaces.CheckpointType,
			data:        checkpoint,
			replicas: func() []*replica {
				offline := newReplica("primary").holding(interfaces.CheckpointType, checkpoint)
				offline.down = true
				return []*replica{offline}
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, errNoBackendAvailable)
				assert.NotErrorIs(t, err, interfaces.ErrContentNotFound)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			replicas := tt.replicas()
			multi := NewMultiStorageBackend(backendsOf(replicas...), discardLogger())

			data, err := multi.Fetch(context.Background(), interfaces.ComputeID(tt.data), tt.contentType)
			if tt.check != nil {
				require.Error(t, err)
				assert.Nil(t, data)
				tt.check(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.data, data)

			// Replicas after the one that answered are never asked.
			answered := false
			for _, r := range replicas {
				if answered {
					assert.Zero(t, r.fetches, r.name)
				}
				if r.name == tt.wantFrom {
					answered = true
				}
			}
			require.True(t, answered)
		})
	}
}

func TestMultiStorageBackend_Store(t *testing.T) {
	tests := []struct {
		name       string
		replicas   func() []*replica
		wantErr    error
		wantStored []string
	}{
		{
			name: "every replica",
			replicas: func() []*replica {
				return []*replica{newReplica("a"), newReplica("b"), newReplica("c")}
			},
			wantStored: []string{"a", "b", "c"},
		},
		{
			name: "partial failure still succeeds",
			replicas: func() []*replica {
				failing := newReplica("b")
				failing.storeErr = errDisk
				return []*replica{newReplica("a"), failing, newReplica("c")}
			},
			wantStored: []string{"a", "c"},
		},
		{
			name: "offline replica is skipped",
			replicas: func() []*replica {
				offline := newReplica("a")
				offline.down = true
				return []*replica{offline, newReplica("b")}
			},
			wantStored: []string{"b"},
		},
		{
			name: "every replica fails",
			replicas: func() []*replica {
				a, b := newReplica("a"), newReplica("b")
				a.storeErr, b.storeErr = errDisk, errDisk
				return []*replica{a, b}
			},
			wantErr: errDisk,
		},
		{
			name: "no replica online",
			replicas: func() []*replica {
				offline := newReplica("a")
				offline.down = true
				return []*replica{offline}
			},
			wantErr: errNoBackendAvailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			replicas := tt.replicas()
			multi := NewMultiStorageBackend(backendsOf(replicas...), discardLogger())

			id, err := multi.Store(context.Background(), checkpoint, interfaces.CheckpointType)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, interfaces.ComputeID(checkpoint), id)

			var stored []string
			for _, r := range replicas {
				if _, ok := r.content[interfaces.CheckpointType][id]; ok {
					stored = append(stored, r.name)
				}
			}
			assert.Equal(t, tt.wantStored, stored)
		})
	}
}

// TestMultiStorageBackend_FileReplicas restores a checkpoint after the first
// replica lost it.
func TestMultiStorageBackend_FileReplicas(t *testing.T) {
	ctx := context.Background()
	first, err := NewFileBackend(t.TempDir(), discardLogger())
	require.NoError(t, err)
	second, err := NewFileBackend(t.TempDir(), discardLogger())
	require.NoError(t, err)

	multi := NewMultiStorageBackend([]interfaces.StorageBackend{first, second}, discardLogger())
	assert.True(t, multi.Available(ctx))
	assert.Equal(t, "multi:["+first.LocationURI()+","+second.LocationURI()+"]", multi.LocationURI())

	id, err := multi.Store(ctx, checkpoint, interfaces.CheckpointType)
	require.NoError(t, err)

	lost := newReplica("lost")
	restoring := NewMultiStorageBackend([]interfaces.StorageBackend{lost, second}, discardLogger())
	data, err := restoring.Fetch(ctx, id, interfaces.CheckpointType)
	require.NoError(t, err)
	assert.Equal(t, checkpoint, data)

	_, err = restoring.Fetch(ctx, id, interfaces.RecordArchiveType)
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)
}

func TestMultiStorageBackend_Available(t *testing.T) {
	online, offline := newReplica("online"), newReplica("offline")
	offline.down = true

	assert.True(t, NewMultiStorageBackend(backendsOf(offline, online), nil).Available(context.Background()))
	assert.False(t, NewMultiStorageBackend(backendsOf(offline), nil).Available(context.Background()))
	assert.False(t, NewMultiStorageBackend(nil, nil).Available(context.Background()))
}
