package pairs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairsync/internal/model"
)

func TestCheckpointStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "checkpoint.json")
	cps := NewCheckpointStore(path, true)

	_, ok, err := cps.Load("mainnet")
	require.NoError(t, err)
	assert.False(t, ok, "missing file")

	cp := Checkpoint{Network: "mainnet", Pairs: []model.Pair{model.NormalizePair(pair("P1", "X", "Y"))}, Complete: true}
	require.NoError(t, cps.Save(cp))
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	got, ok, err := cps.Load("mainnet")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cp.Pairs, got.Pairs)
	assert.True(t, got.Complete)
	assert.NotEmpty(t, got.UpdatedAt)

	_, ok, err = cps.Load("testnet")
	require.NoError(t, err)
	assert.False(t, ok, "other network")

	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, _, err = cps.Load("mainnet")
	assert.ErrorContains(t, err, "parse checkpoint")
}

func TestCheckpointStoreDisabled(t *testing.T) {
	cps := NewCheckpointStore("", true)
	require.NoError(t, cps.Save(Checkpoint{Network: "mainnet"}))
	_, ok, err := cps.Load("mainnet")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRestoreResumesAfterLastPair(t *testing.T) {
	all := []model.Pair{pair("P1", "A", "B"), pair("P2", "B", "C"), pair("P3", "C", "D")}
	h := newHarness(t, cursorRemote(all, false), "B", "D")
	h.engine.cfg.StopWhenIdle = true

	restored := h.engine.Restore(Checkpoint{Network: "mainnet", Pairs: all[:2]})
	require.True(t, restored)
	assert.Equal(t, []string{"D"}, h.custom.remaining(), "restored assets are reconciled")
	assert.False(t, h.engine.Restore(Checkpoint{Network: "mainnet", Pairs: all}), "partition already seeded")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.engine.Run(ctx))

	first := h.api.call(0)
	require.NotNil(t, first.req.StartAfter)
	assert.Equal(t, "C", first.req.StartAfter[1].Address())

	cp := h.engine.Checkpoint("mainnet")
	assert.True(t, cp.Complete)
	require.Len(t, cp.Pairs, 3)
	assert.Equal(t, "P3", cp.Pairs[2].ContractAddr)
	assert.Empty(t, h.custom.remaining())
}

func TestRestoreCompleteCheckpointEndsAfterOneRequest(t *testing.T) {
	all := []model.Pair{pair("P1", "A", "B"), pair("P2", "B", "C"), pair("P3", "C", "D")}

	for _, tc := range []struct {
		name     string
		complete bool
		calls    int
	}{
		{name: "complete", complete: true, calls: 1},
		{name: "partial", complete: false, calls: 2},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, cursorRemote(all, true))
			h.engine.cfg.StopWhenIdle = true
			require.True(t, h.engine.Restore(Checkpoint{Network: "mainnet", Pairs: all, Complete: tc.complete}))

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			require.NoError(t, h.engine.Run(ctx))

			assert.Equal(t, tc.calls, h.api.callCount())
			assert.Len(t, h.engine.Pairs(), 3)
			assert.True(t, h.engine.Checkpoint("mainnet").Complete)
		})
	}
}
