package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shotam27/souchiJohoKanri/internal/config"
)

func TestPruneHistory(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	n, err := s.PruneHistory(ctx, 2)
	require.NoError(t, err)
	assert.Zero(t, n, "no history table yet")

	for _, name := range []string{"1.csv", "2.csv", "3.csv", "4.csv"} {
		mustIngest(t, s, name, csvLines(testHeader, "Alpha,Gateway,dev1,,admin,"))
	}

	n, err = s.PruneHistory(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.PruneHistory(ctx, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	entries, err := s.ListHistory(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "4.csv", entries[0].Name)
	assert.Equal(t, "3.csv", entries[1].Name)

	n, err = s.PruneHistory(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n, "zero keeps everything")
}

func TestStartHistoryPruner(t *testing.T) {
	s := newTestService(t)
	for _, name := range []string{"1.csv", "2.csv", "3.csv"} {
		mustIngest(t, s, name, csvLines(testHeader, "Alpha,Gateway,dev1,,admin,"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.StartHistoryPruner(ctx, config.HistoryConfig{MaxEntries: 1, CheckInterval: time.Hour})
		close(done)
	}()

	require.Eventually(t, func() bool {
		entries, err := s.ListHistory(context.Background(), 10)
		return err == nil && len(entries) == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pruner did not stop after cancel")
	}
}

func TestStartHistoryPruner_Disabled(t *testing.T) {
	s := newTestService(t)
	done := make(chan struct{})
	go func() {
		s.StartHistoryPruner(context.Background(), config.HistoryConfig{})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled pruner should return immediately")
	}
}
