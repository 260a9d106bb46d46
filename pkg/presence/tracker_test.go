package presence_test

import (
	"testing"
	"time"

	"github.com/deliverly/go-fanout/pkg/presence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateAndGet(t *testing.T) {
	tr := presence.NewTracker()

	_, ok := tr.Get("u1")
	assert.False(t, ok)

	applied := tr.Update("u1", presence.StatusOnline, time.Unix(10, 0))
	assert.True(t, applied)

	rec, ok := tr.Get("u1")
	require.True(t, ok)
	assert.Equal(t, presence.StatusOnline, rec.Status)
	assert.Equal(t, time.Unix(10, 0), rec.LastSeen)
}

func TestLaterTimestampWinsRegardlessOfOrder(t *testing.T) {
	apply := func(tr *presence.Tracker, first, second struct {
		status presence.Status
		ts     time.Time
	}) presence.Record {
		tr.Update("u1", first.status, first.ts)
		tr.Update("u1", second.status, second.ts)
		rec, _ := tr.Get("u1")
		return rec
	}

	online := struct {
		status presence.Status
		ts     time.Time
	}{presence.StatusOnline, time.Unix(5, 0)}
	offline := struct {
		status presence.Status
		ts     time.Time
	}{presence.StatusOffline, time.Unix(3, 0)}

	// U1 then U2, and U2 then U1, must both end online at t=5.
	rec := apply(presence.NewTracker(), online, offline)
	assert.Equal(t, presence.StatusOnline, rec.Status)

	rec = apply(presence.NewTracker(), offline, online)
	assert.Equal(t, presence.StatusOnline, rec.Status)
	assert.Equal(t, time.Unix(5, 0), rec.LastSeen)
}

func TestStaleUpdateDropped(t *testing.T) {
	tr := presence.NewTracker()
	tr.Update("u1", presence.StatusOffline, time.Unix(100, 0))

	applied := tr.Update("u1", presence.StatusOnline, time.Unix(90, 0))
	assert.False(t, applied)

	rec, _ := tr.Get("u1")
	assert.Equal(t, presence.StatusOffline, rec.Status)
}

func TestEqualTimestampOverwrites(t *testing.T) {
	tr := presence.NewTracker()
	tr.Update("u1", presence.StatusOnline, time.Unix(50, 0))

	applied := tr.Update("u1", presence.StatusOffline, time.Unix(50, 0))
	assert.True(t, applied)

	rec, _ := tr.Get("u1")
	assert.Equal(t, presence.StatusOffline, rec.Status)
}

func TestAllOnline(t *testing.T) {
	tr := presence.NewTracker()
	tr.Update("u1", presence.StatusOnline, time.Unix(1, 0))
	tr.Update("u2", presence.StatusOffline, time.Unix(1, 0))
	tr.Update("u3", presence.StatusOnline, time.Unix(1, 0))

	online := tr.AllOnline()
	assert.ElementsMatch(t, []string{"u1", "u3"}, online)
}
