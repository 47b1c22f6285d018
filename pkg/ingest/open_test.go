package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnarchoFatSats/comercial-mva/pkg/config"
)

func TestOpen_LiteMode(t *testing.T) {
	cfg, err := config.Parse(map[string]string{"DATA_DIR": t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	svc, cleanup, err := Open(ctx, cfg, nil)
	require.NoError(t, err)
	defer func() { assert.NoError(t, cleanup()) }()

	res, err := svc.Ingest(ctx, encode(t, qualified("lead-lite")))
	require.NoError(t, err)
	assert.NotEmpty(t, res.ObjectKey)

	found, err := svc.Lookup(ctx, "5551234567")
	require.NoError(t, err)
	require.True(t, found.Found)
	assert.Equal(t, "lead-lite", found.Summary.LeadID)
	require.NotNil(t, found.Record)
	assert.Equal(t, "Jane", found.Record.Contact.FirstName)
}

func TestOpen_NoIndex(t *testing.T) {
	cfg, err := config.Parse(map[string]string{
		"DATA_DIR":           t.TempDir(),
		"LEAD_INDEX_BACKEND": "none",
	})
	require.NoError(t, err)

	svc, cleanup, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer cleanup()

	_, err = svc.Lookup(context.Background(), "5551234567")
	assert.ErrorIs(t, err, ErrLookupUnavailable)
}

func TestOpen_UnreachableRedis(t *testing.T) {
	cfg, err := config.Parse(map[string]string{
		"DATA_DIR":   t.TempDir(),
		"REDIS_ADDR": "127.0.0.1:1",
	})
	require.NoError(t, err)

	_, _, err = Open(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "redis")
}
