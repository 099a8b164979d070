package journal

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) (*Journal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j, path
}

func TestRecordAndList(t *testing.T) {
	j, _ := openTemp(t)
	ctx := context.Background()
	f := 0.97

	bell, err := j.Record(ctx, Entry{Kind: KindBell, Pass: true, Fidelity: &f, Payload: json.RawMessage(`{"state":"phi_plus"}`)})
	require.NoError(t, err)
	assert.NotEmpty(t, bell.ID)
	assert.False(t, bell.CreatedAt.IsZero())

	_, err = j.Record(ctx, Entry{Kind: KindEntanglement, Pass: false})
	require.NoError(t, err)
	_, err = j.Record(ctx, Entry{Kind: KindBell, Pass: false, Fidelity: &f, Payload: json.RawMessage(`{"state":"psi_minus"}`)})
	require.NoError(t, err)

	all, err := j.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, KindEntanglement, all[1].Kind)
	assert.Nil(t, all[1].Fidelity)
	assert.JSONEq(t, "null", string(all[1].Payload))

	bells, err := j.List(ctx, KindBell)
	require.NoError(t, err)
	require.Len(t, bells, 2)
	assert.Equal(t, bell.ID, bells[0].ID)
	assert.True(t, bells[0].Pass)
	require.NotNil(t, bells[0].Fidelity)
	assert.Equal(t, f, *bells[0].Fidelity)
	assert.JSONEq(t, `{"state":"phi_plus"}`, string(bells[0].Payload))
	assert.Equal(t, bell.CreatedAt.UnixNano(), bells[0].CreatedAt.UnixNano())
}

func TestRecordRejects(t *testing.T) {
	j, _ := openTemp(t)
	ctx := context.Background()

	_, err := j.Record(ctx, Entry{})
	assert.Error(t, err, "missing kind")

	_, err = j.Record(ctx, Entry{Kind: KindGHZ, Payload: json.RawMessage(`{`)})
	assert.Error(t, err, "malformed payload")

	e, err := j.Record(ctx, Entry{ID: "fixed", Kind: KindGHZ})
	require.NoError(t, err)
	assert.Equal(t, "fixed", e.ID)
	_, err = j.Record(ctx, Entry{ID: "fixed", Kind: KindGHZ})
	assert.Error(t, err, "duplicate id")
}

func TestReopenKeepsEntries(t *testing.T) {
	j, path := openTemp(t)
	ctx := context.Background()
	at := time.Unix(1700000000, 0)
	_, err := j.Record(ctx, Entry{Kind: KindTeleport, Pass: true, CreatedAt: at})
	require.NoError(t, err)
	require.NoError(t, j.Close())

	again, err := Open(path)
	require.NoError(t, err)
	defer again.Close()
	got, err := again.List(ctx, KindTeleport)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].CreatedAt.Equal(at))
}
