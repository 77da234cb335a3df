package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) Clock { return func() time.Time { return t } }

func TestDirectMessageRoundTrip(t *testing.T) {
	dir := t.TempDir()
	a, err := New(dir, "liaison-a", nil)
	require.NoError(t, err)
	b, err := New(dir, "liaison-b", nil)
	require.NoError(t, err)

	_, err = a.AskLiaison("liaison-b", "did you run the migration?", map[string]any{"task": "db"})
	require.NoError(t, err)

	msgs, err := b.ReceiveMessages()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, MessageQuestion, msgs[0].Type)
	assert.Equal(t, "liaison-a", msgs[0].FromLiaison)

	// Inbox is delete-on-read.
	msgs2, err := b.ReceiveMessages()
	require.NoError(t, err)
	assert.Len(t, msgs2, 0)
}

func TestBroadcastDedupAndSelfExclusion(t *testing.T) {
	dir := t.TempDir()
	a, err := New(dir, "liaison-a", nil)
	require.NoError(t, err)
	b, err := New(dir, "liaison-b", nil)
	require.NoError(t, err)

	_, err = a.BroadcastDiscovery("schema-change", map[string]any{"table": "users"})
	require.NoError(t, err)

	msgs, err := b.ReceiveMessages()
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	// Re-receiving does not redeliver the same broadcast to b...
	msgs2, err := b.ReceiveMessages()
	require.NoError(t, err)
	assert.Len(t, msgs2, 0)

	// ...and the sender never sees its own broadcast.
	selfMsgs, err := a.ReceiveMessages()
	require.NoError(t, err)
	assert.Len(t, selfMsgs, 0)
}

func TestBroadcastExpiry(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	a, err := New(dir, "liaison-a", nil)
	require.NoError(t, err)
	a.Now = fixedClock(now.Add(-2 * time.Hour))

	_, err = a.BroadcastDiscovery("stale-topic", "x")
	require.NoError(t, err)

	b, err := New(dir, "liaison-b", nil)
	require.NoError(t, err)
	b.Now = fixedClock(now)

	msgs, err := b.ReceiveMessages()
	require.NoError(t, err)
	assert.Len(t, msgs, 0)
}

func TestClaimTaskRace(t *testing.T) {
	dir := t.TempDir()
	a, err := New(dir, "liaison-a", nil)
	require.NoError(t, err)
	b, err := New(dir, "liaison-b", nil)
	require.NoError(t, err)

	okA, err := a.ClaimTask("task-1", "migrate users table")
	require.NoError(t, err)
	assert.True(t, okA)

	okB, err := b.ClaimTask("task-1", "migrate users table")
	require.NoError(t, err)
	assert.False(t, okB, "second claimant must not win an in-progress task")
}

func TestCompleteTaskAllowsReclaim(t *testing.T) {
	dir := t.TempDir()
	a, err := New(dir, "liaison-a", nil)
	require.NoError(t, err)

	ok, err := a.ClaimTask("task-1", "desc")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, a.CompleteTask("task-1", map[string]any{"rows": 42}))

	b, err := New(dir, "liaison-b", nil)
	require.NoError(t, err)
	okB, err := b.ClaimTask("task-1", "desc")
	require.NoError(t, err)
	assert.True(t, okB, "a completed task can be reclaimed")
}

func TestShareContextVisibleAcrossLiaisons(t *testing.T) {
	dir := t.TempDir()
	a, err := New(dir, "liaison-a", nil)
	require.NoError(t, err)
	b, err := New(dir, "liaison-b", nil)
	require.NoError(t, err)

	require.NoError(t, a.ShareContext("api_base_url", "https://staging.example.com"))

	ctx, err := b.GetSharedContext()
	require.NoError(t, err)
	entry, ok := ctx["api_base_url"]
	require.True(t, ok)
	assert.Equal(t, "https://staging.example.com", entry.Value)
	assert.Equal(t, "liaison-a", entry.FromLiaison)
}

func TestHeartbeatAndActiveLiaisons(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	a, err := New(dir, "liaison-a", nil)
	require.NoError(t, err)
	a.Now = fixedClock(now.Add(-5 * time.Minute))
	require.NoError(t, a.RegisterLiaison("build the thing"))

	b, err := New(dir, "liaison-b", nil)
	require.NoError(t, err)
	b.Now = fixedClock(now)

	active, err := b.GetActiveLiaisons()
	require.NoError(t, err)
	assert.NotContains(t, active, "liaison-a", "stale heartbeat must not count as active")

	a.Now = fixedClock(now)
	require.NoError(t, a.Heartbeat("running"))

	active2, err := b.GetActiveLiaisons()
	require.NoError(t, err)
	assert.Contains(t, active2, "liaison-a")

	require.NoError(t, a.DeregisterLiaison())
	active3, err := b.GetActiveLiaisons()
	require.NoError(t, err)
	assert.NotContains(t, active3, "liaison-a")
}
