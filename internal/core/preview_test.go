package core

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreviewBatch(t *testing.T) {
	s := newTestService(t)
	seedInventory(t, s)
	ctx := context.Background()

	p, err := s.PreviewBatch(ctx, IngestRequest{Name: "next.csv", Data: csvLines(
		testHeader+",port,os",
		"Alpha,Gateway,gw-dev1,10.0.0.1,admin,pw,2222,linux",
		"Alpha,Router,rt-1,,admin,,22,ios",
		"Alpha,Router,,,admin,,22,ios",
	)})
	require.NoError(t, err)

	assert.True(t, p.Valid)
	assert.Equal(t, 3, p.TotalRows)
	assert.Equal(t, 2, p.AcceptedCount)
	assert.Equal(t, 1, p.UpdateRows)
	assert.Equal(t, 1, p.NewRows)
	assert.Equal(t, []string{"Alpha_Gateway_gw-dev1_admin"}, p.UpdateSamples)
	assert.Equal(t, []string{"Alpha_Router_rt-1_admin"}, p.NewSamples)
	assert.Equal(t, []string{"Alpha_Router"}, p.TablesToCreate)
	assert.Equal(t, []string{"Alpha_Gateway"}, p.ExistingTables)
	assert.Equal(t, map[string][]string{"Alpha_Gateway": {"os"}}, p.IgnoredAttributes)
	require.Len(t, p.RejectedRows, 1)
	assert.Equal(t, 4, p.RejectedRows[0].Line)

	// Nothing was written.
	exists, err := s.registry.TableExists(ctx, s.db, "Alpha_Router")
	require.NoError(t, err)
	assert.False(t, exists)

	res, err := s.SearchCanonical(ctx, SearchFilter{Service: "Alpha", Category: "Gateway", EntityNameContains: "gw-dev1"}, 1, 10)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "10.0.0.1", res.Rows[0].Address)
}

func TestPreviewBatch_EmptyStore(t *testing.T) {
	s := newTestService(t)

	p, err := s.PreviewBatch(context.Background(), IngestRequest{Data: csvLines(
		testHeader,
		"Alpha,Gateway,dev1,,admin,",
		"Alpha,Gateway,dev2,,admin,",
	)})
	require.NoError(t, err)
	assert.Equal(t, 2, p.NewRows)
	assert.Zero(t, p.UpdateRows)
	assert.Equal(t, []string{"Alpha_Gateway"}, p.TablesToCreate)
	assert.Empty(t, p.ExistingTables)
}

func TestPreviewBatch_ManyKeys(t *testing.T) {
	s := newTestService(t)
	lines := []string{testHeader}
	for i := range keyBatchSize + 5 {
		lines = append(lines, "Alpha,Gateway,dev"+strconv.Itoa(i)+",,admin,")
	}
	batch := csvLines(lines...)
	mustIngest(t, s, "bulk.csv", batch)

	p, err := s.PreviewBatch(context.Background(), IngestRequest{Data: batch})
	require.NoError(t, err)
	assert.Equal(t, keyBatchSize+5, p.UpdateRows)
	assert.Len(t, p.UpdateSamples, maxPreviewSamples)
}

func TestPreviewBatch_Errors(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	t.Run("duplicate key", func(t *testing.T) {
		p, err := s.PreviewBatch(ctx, IngestRequest{Data: csvLines(testHeader,
			"Alpha,Gateway,dev1,,admin,",
			"Alpha,Gateway,dev1,,admin,",
		)})
		var rve *RowValidationError
		require.ErrorAs(t, err, &rve)
		assert.False(t, p.Valid)
		assert.NotEmpty(t, p.Error)
		require.Len(t, p.RejectedRows, 1)
		assert.Equal(t, ReasonDuplicateKey, p.RejectedRows[0].Reason)
	})

	t.Run("no accepted rows", func(t *testing.T) {
		p, err := s.PreviewBatch(ctx, IngestRequest{Data: csvLines(testHeader, ",Gateway,dev1,,admin,")})
		assert.True(t, errors.Is(err, ErrNoAcceptedRows))
		assert.Len(t, p.RejectedRows, 1)
	})

	t.Run("empty batch", func(t *testing.T) {
		_, err := s.PreviewBatch(ctx, IngestRequest{})
		assert.ErrorIs(t, err, ErrEmptyBatch)
	})
}
