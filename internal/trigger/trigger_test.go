package trigger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		kind Kind
	}{
		{name: "local minute", raw: "2025-01-15T10:00", kind: KindOnce},
		{name: "once suffix", raw: "2025-01-15T10:00 once", kind: KindOnce},
		{name: "space separated", raw: "2025-01-15 10:00:30", kind: KindOnce},
		{name: "rfc3339", raw: "2025-01-15T10:00:00Z", kind: KindOnce},
		{name: "at prefix", raw: "at:2025-01-15T10:00", kind: KindOnce},
		{name: "cron", raw: "*/5 * * * *", kind: KindCron},
		{name: "cron range step", raw: "0 9-17/2 * * 1-5", kind: KindCron},
		{name: "prefixed cron", raw: "cron:0 0 1 * *", kind: KindCron},
		{name: "descriptor", raw: "@daily", kind: KindCron},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Parse(tt.raw, time.UTC)
			require.NoError(t, err, "Parse(%q)", tt.raw)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.kind == KindOnce, got.IsOneShot())
		})
	}
}

func TestParseInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "   ", "not-a-trigger", "61 * * * *", "cron:", "2025-13-40T10:00", "at:"} {
		_, err := Parse(raw, time.UTC)
		assert.Error(t, err, "Parse(%q) should fail", raw)
	}
}

func TestOnceUsesLocation(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("UTC+7", 7*3600)
	tr, err := Parse("2025-01-15T10:00", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 15, 3, 0, 0, 0, time.UTC), tr.At.UTC())
}

func TestNextFireAfterOnce(t *testing.T) {
	t.Parallel()
	tr, err := Parse("2025-01-15T10:00", time.UTC)
	require.NoError(t, err)

	next, ok := tr.NextFireAfter(time.Date(2025, 1, 15, 9, 59, 0, 0, time.UTC))
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC), next)

	_, ok = tr.NextFireAfter(time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC))
	assert.False(t, ok, "instant equal to from is not strictly after")
}

func TestNextFireAfterCron(t *testing.T) {
	t.Parallel()
	base := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)

	next, ok, err := NextFireAfter("0 9 * * *", base)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC), next)

	next, ok, err = NextFireAfter("0 9 * * *", time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, next.Day(), "strictly greater than from")

	next, ok, err = NextFireAfter("*/30 * * * *", time.Date(2025, 1, 1, 12, 10, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 30, next.Minute())

	next, ok, err = NextFireAfter("* * * * *", time.Date(2025, 1, 1, 12, 10, 30, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 1, 1, 12, 11, 0, 0, time.UTC), next)
}

func TestNextFireAfterNoMatchWithinLookahead(t *testing.T) {
	t.Parallel()
	// February 30th never exists.
	_, ok, err := NextFireAfter("0 0 30 2 *", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsOneShot(t *testing.T) {
	t.Parallel()
	assert.True(t, IsOneShot("2025-01-15T10:00 once"))
	assert.False(t, IsOneShot("@hourly"))
	assert.False(t, IsOneShot("garbage"))
}

func TestPreview(t *testing.T) {
	t.Parallel()
	tr, err := Parse("0 * * * *", time.UTC)
	require.NoError(t, err)
	ts := Preview(tr, time.Date(2025, 1, 1, 0, 30, 0, 0, time.UTC), 3)
	require.Len(t, ts, 3)
	assert.Equal(t, 1, ts[0].Hour())
	assert.Equal(t, 3, ts[2].Hour())
	assert.Equal(t, "2025-01-01 01:00:00, 2025-01-01 02:00:00, 2025-01-01 03:00:00", FormatPreview(ts))

	once, err := Parse("2025-01-01T05:00", time.UTC)
	require.NoError(t, err)
	assert.Len(t, Preview(once, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 3), 1)
}
