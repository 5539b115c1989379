package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindd/internal/policy"
	"remindd/internal/scheduler"
	logx "remindd/pkg/logx"
)

func TestOfflineAddListRemove(t *testing.T) {
	ctx := context.Background()
	off, err := OpenOffline(writeConfig(t, t.TempDir()), logx.Nop())
	require.NoError(t, err)
	defer off.Close()

	e, err := off.Add(ctx, scheduler.Request{Name: "water plants", Trigger: "0 8 * * *"})
	require.NoError(t, err)
	assert.Equal(t, "alice", e.Owner)
	require.NotNil(t, e.NextRunAt)

	_, err = off.Add(ctx, scheduler.Request{Name: "", Trigger: "@daily"})
	var verr *policy.ValidationError
	require.ErrorAs(t, err, &verr)

	list, err := off.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, e.ID, list[0].ID)

	list, err = off.List(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, off.Remove(ctx, e.ID))
	list, err = off.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestOfflineNeedsStorage(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"storage":{"driver":"none","path":""}}`), 0o644))
	_, err := OpenOffline(p, logx.Nop())
	assert.ErrorIs(t, err, ErrNoStorage)
}
