// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package scanner

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ckb-spark/spark/chainclient"
	"github.com/ckb-spark/spark/types"
)

func testScript(tag byte) types.Script { return types.Script{CodeHash: types.Hash{tag}, HashType: 1} }

func testCell(idx uint32, lock types.Script) types.Cell {
	var out types.OutPoint
	out.Index = idx
	out.TxHash[0] = byte(idx + 1)
	return types.Cell{OutPoint: out, Capacity: 100_000_000, Lock: lock}
}

func TestFingerprintIsStableAndDistinct(t *testing.T) {
	k1 := chainclient.SearchKey{Script: testScript(1), Primary: chainclient.FieldLock}
	k2 := chainclient.SearchKey{Script: testScript(1), Primary: chainclient.FieldLock}
	k3 := chainclient.SearchKey{Script: testScript(2), Primary: chainclient.FieldLock}

	require.Equal(t, fingerprint(k1), fingerprint(k2))
	require.NotEqual(t, fingerprint(k1), fingerprint(k3))
}

func TestFingerprintDistinguishesTypeFilter(t *testing.T) {
	base := chainclient.SearchKey{Script: testScript(1), Primary: chainclient.FieldLock}
	withFilter := base
	withFilter.TypeFilter = &chainclient.ScriptFilter{Script: testScript(9)}

	require.NotEqual(t, fingerprint(base), fingerprint(withFilter))
}

func TestSaveLoadStateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := New(chainclient.NewMock(), nil, filepath.Join(dir, "scan-state.json"))

	fp := fingerprint(chainclient.SearchKey{Script: testScript(1)})
	tk := &task{}
	tk.lastBlock.Store(42)
	s.tasks.Store(fp, tk)

	require.NoError(t, s.saveState())

	// Fresh scanner pointed at the same file picks up the persisted tip.
	s2 := New(chainclient.NewMock(), nil, s.StateFile)
	loaded, err := s2.loadState()
	require.NoError(t, err)
	require.Equal(t, uint64(42), loaded[fp])
}

func TestLoadStateMissingFileIsEmpty(t *testing.T) {
	s := New(chainclient.NewMock(), nil, filepath.Join(t.TempDir(), "never-written.json"))
	loaded, err := s.loadState()
	require.NoError(t, err)
	require.Empty(t, loaded)
}

func TestLoadStateEmptyPathIsEmpty(t *testing.T) {
	s := New(chainclient.NewMock(), nil, "")
	loaded, err := s.loadState()
	require.NoError(t, err)
	require.Empty(t, loaded)
}

// fakeConsumer collects every notified cell; cont controls whether
// Notify keeps the subscription alive.
type fakeConsumer struct {
	mu    sync.Mutex
	cells []types.Cell
	cont  bool
}

func (f *fakeConsumer) Notify(cell types.Cell) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cells = append(f.cells, cell)
	return f.cont
}

func (f *fakeConsumer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cells)
}

func TestScanRangePagesThroughEveryMatch(t *testing.T) {
	client := chainclient.NewMock()
	lock := testScript(1)
	for i := uint32(0); i < 5; i++ {
		client.PutCell(testCell(i, lock))
	}
	s := New(client, nil, "")
	consumer := &fakeConsumer{cont: true}

	key := chainclient.SearchKey{Script: lock, Primary: chainclient.FieldLock}
	cont, err := s.scanRange(context.Background(), key, consumer)
	require.NoError(t, err)
	require.True(t, cont)
	require.Equal(t, 5, consumer.count())
}

func TestScanRangeStopsWhenConsumerUnsubscribes(t *testing.T) {
	client := chainclient.NewMock()
	lock := testScript(1)
	for i := uint32(0); i < 5; i++ {
		client.PutCell(testCell(i, lock))
	}
	s := New(client, nil, "")
	consumer := &fakeConsumer{cont: false}

	key := chainclient.SearchKey{Script: lock, Primary: chainclient.FieldLock}
	cont, err := s.scanRange(context.Background(), key, consumer)
	require.NoError(t, err)
	require.False(t, cont)
	require.Equal(t, 1, consumer.count())
}

// TestSubscribeNotifiesOnceTipAdvancesEnough drives a full poll cycle
// with short intervals: the task must not fire until the mock tip has
// moved more than AdvanceBlocks past the resume point, then must deliver
// every cell already indexed.
func TestSubscribeNotifiesOnceTipAdvancesEnough(t *testing.T) {
	client := chainclient.NewMock()
	lock := testScript(1)
	client.PutCell(testCell(0, lock))

	s := New(client, nil, "")
	s.PollInterval = 5 * time.Millisecond
	s.AdvanceBlocks = 10

	consumer := &fakeConsumer{cont: true}
	key := chainclient.SearchKey{Script: lock, Primary: chainclient.FieldLock}

	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()
	cancel, err := s.Subscribe(ctx, key, consumer)
	require.NoError(t, err)
	defer cancel()

	// Tip hasn't moved enough yet: no notification should land.
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, 0, consumer.count())

	client.SetTip(11)
	require.Eventually(t, func() bool { return consumer.count() == 1 }, time.Second, 5*time.Millisecond)
}

// TestSubscribeResumesFromPersistedState checks that a scanner pointed
// at a state file already recording a scan tip for this key's
// fingerprint starts counting its AdvanceBlocks threshold from that
// resumed tip, not from zero.
func TestSubscribeResumesFromPersistedState(t *testing.T) {
	client := chainclient.NewMock()
	lock := testScript(1)
	client.PutCell(testCell(0, lock))
	client.SetTip(1000)

	stateFile := filepath.Join(t.TempDir(), "scan-state.json")
	key := chainclient.SearchKey{Script: lock, Primary: chainclient.FieldLock}
	fp := fingerprint(key)

	seed := New(client, nil, stateFile)
	tk := &task{}
	tk.lastBlock.Store(995) // within AdvanceBlocks of the current tip
	seed.tasks.Store(fp, tk)
	require.NoError(t, seed.saveState())

	s := New(client, nil, stateFile)
	s.PollInterval = 5 * time.Millisecond
	s.AdvanceBlocks = 10

	consumer := &fakeConsumer{cont: true}
	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()
	cancel, err := s.Subscribe(ctx, key, consumer)
	require.NoError(t, err)
	defer cancel()

	time.Sleep(40 * time.Millisecond)
	require.Equal(t, 0, consumer.count())

	client.SetTip(1006) // now 11 past the resumed 995
	require.Eventually(t, func() bool { return consumer.count() == 1 }, time.Second, 5*time.Millisecond)
}

// TestJanitorSweepsFinishedTasksAndSnapshotsState covers the 60-second
// sweep (here driven at a short interval): a task whose run loop has
// exited is removed from the live set, and the remaining tasks' scan
// tips are persisted.
func TestJanitorSweepsFinishedTasksAndSnapshotsState(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "scan-state.json")
	s := New(chainclient.NewMock(), nil, stateFile)
	s.JanitorInterval = 5 * time.Millisecond

	liveFP := "live"
	liveTask := &task{}
	liveTask.lastBlock.Store(7)
	s.tasks.Store(liveFP, liveTask)

	deadFP := "dead"
	deadTask := &task{}
	deadTask.done.Store(true)
	s.tasks.Store(deadFP, deadTask)

	ctx, cancel := context.WithCancel(context.Background())
	janitorErr := make(chan error, 1)
	go func() { janitorErr <- s.Janitor(ctx) }()

	require.Eventually(t, func() bool {
		_, stillThere := s.tasks.Load(deadFP)
		return !stillThere
	}, time.Second, 5*time.Millisecond)

	_, liveStillThere := s.tasks.Load(liveFP)
	require.True(t, liveStillThere)

	require.Eventually(t, func() bool {
		loaded, err := s.loadState()
		require.NoError(t, err)
		return loaded[liveFP] == 7
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-janitorErr, context.Canceled)
}
