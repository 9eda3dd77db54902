package outbox

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ola-oye/VitaBand/errors"
	"github.com/ola-oye/VitaBand/message"
)

func openOutbox(t *testing.T, dir string, cfg Config) *Outbox {
	t.Helper()
	cfg.Dir = dir
	o := NewOutbox(Deps{Config: cfg})
	require.NoError(t, o.Initialize())
	return o
}

func TestEnqueueAssignsSequentialIDs(t *testing.T) {
	o := openOutbox(t, t.TempDir(), Config{})
	defer o.Stop(time.Second)

	for i := 0; i < 3; i++ {
		id, err := o.Enqueue(message.TopicRecommendation, []byte(fmt.Sprintf("p%d", i)), message.QoSAtLeastOnce)
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), id)
	}

	pending := o.NextPending(message.TopicRecommendation, 10)
	require.Len(t, pending, 3)
	for i, entry := range pending {
		assert.Equal(t, uint64(i+1), entry.ID)
		assert.Equal(t, []byte(fmt.Sprintf("p%d", i)), entry.Payload)
	}
}

func TestMarkAcknowledgedSettlesEntry(t *testing.T) {
	o := openOutbox(t, t.TempDir(), Config{})
	defer o.Stop(time.Second)

	id, err := o.Enqueue(message.TopicAlerts, []byte("alert"), message.QoSExactlyOnce)
	require.NoError(t, err)

	require.NoError(t, o.MarkAcknowledged(id))
	assert.Equal(t, 0, o.Depth())
	assert.Empty(t, o.NextPending(message.TopicAlerts, 10))

	err = o.MarkAcknowledged(id)
	assert.True(t, errors.IsInvalid(err), "double settle should be rejected")
}

func TestReopenPreservesPendingAndSequence(t *testing.T) {
	dir := t.TempDir()

	o := openOutbox(t, dir, Config{})
	for i := 0; i < 3; i++ {
		_, err := o.Enqueue(message.TopicRecommendation, []byte(fmt.Sprintf("p%d", i)), message.QoSAtLeastOnce)
		require.NoError(t, err)
	}
	require.NoError(t, o.MarkAcknowledged(1))
	require.NoError(t, o.Stop(time.Second))

	reopened := openOutbox(t, dir, Config{})
	defer reopened.Stop(time.Second)

	pending := reopened.NextPending(message.TopicRecommendation, 10)
	require.Len(t, pending, 2)
	assert.Equal(t, uint64(2), pending[0].ID)
	assert.Equal(t, uint64(3), pending[1].ID)

	// The sequence continues without reusing settled ids
	id, err := reopened.Enqueue(message.TopicRecommendation, []byte("p3"), message.QoSAtLeastOnce)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), id)
}

func TestReopenTruncatesTornTail(t *testing.T) {
	dir := t.TempDir()

	o := openOutbox(t, dir, Config{})
	_, err := o.Enqueue(message.TopicAlerts, []byte("kept"), message.QoSExactlyOnce)
	require.NoError(t, err)
	require.NoError(t, o.Stop(time.Second))

	// Simulate a crash mid-append
	f, err := os.OpenFile(filepath.Join(dir, walName), os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"op":"enq","id":2,"to`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened := openOutbox(t, dir, Config{})
	defer reopened.Stop(time.Second)

	pending := reopened.NextPending(message.TopicAlerts, 10)
	require.Len(t, pending, 1)
	assert.Equal(t, []byte("kept"), pending[0].Payload)
}

func TestReopenRejectsMidFileCorruption(t *testing.T) {
	dir := t.TempDir()

	o := openOutbox(t, dir, Config{})
	_, err := o.Enqueue(message.TopicAlerts, []byte("a"), message.QoSExactlyOnce)
	require.NoError(t, err)
	require.NoError(t, o.Stop(time.Second))

	path := filepath.Join(dir, walName)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, append([]byte("garbage line\n"), data...), 0o644))

	bad := NewOutbox(Deps{Config: Config{Dir: dir}})
	err = bad.Initialize()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrStorageCorrupted)
}

func TestCapacityEvictsBestEffortFirst(t *testing.T) {
	o := openOutbox(t, t.TempDir(), Config{Capacity: 3})
	defer o.Stop(time.Second)

	_, err := o.Enqueue(message.TopicRecommendation, []byte("q1-a"), message.QoSAtLeastOnce)
	require.NoError(t, err)
	q0ID, err := o.Enqueue(message.TopicSensors, []byte("q0"), message.QoSBestEffort)
	require.NoError(t, err)
	_, err = o.Enqueue(message.TopicRecommendation, []byte("q1-b"), message.QoSAtLeastOnce)
	require.NoError(t, err)

	// Fourth entry evicts the best-effort one despite it not being oldest
	_, err = o.Enqueue(message.TopicAlerts, []byte("q2"), message.QoSExactlyOnce)
	require.NoError(t, err)

	assert.Equal(t, 3, o.Depth())
	assert.Equal(t, uint64(1), o.Evictions())
	for _, entry := range o.NextPending(message.TopicSensors, 10) {
		assert.NotEqual(t, q0ID, entry.ID)
	}
}

func TestCapacityRejectsWhenNothingEvictable(t *testing.T) {
	o := openOutbox(t, t.TempDir(), Config{Capacity: 2})
	defer o.Stop(time.Second)

	for i := 0; i < 2; i++ {
		_, err := o.Enqueue(message.TopicAlerts, []byte("a"), message.QoSExactlyOnce)
		require.NoError(t, err)
	}

	_, err := o.Enqueue(message.TopicAlerts, []byte("overflow"), message.QoSExactlyOnce)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrStorageCapacity)
	assert.True(t, errors.IsFatal(err),
		"an outbox that may not evict anything is misconfigured for its workload")
}

func TestCapacityDropOldestEvictsAcknowledgedLevels(t *testing.T) {
	o := openOutbox(t, t.TempDir(), Config{Capacity: 2, DropOldest: true})
	defer o.Stop(time.Second)

	first, err := o.Enqueue(message.TopicAlerts, []byte("old"), message.QoSExactlyOnce)
	require.NoError(t, err)
	_, err = o.Enqueue(message.TopicAlerts, []byte("mid"), message.QoSExactlyOnce)
	require.NoError(t, err)
	_, err = o.Enqueue(message.TopicAlerts, []byte("new"), message.QoSExactlyOnce)
	require.NoError(t, err)

	pending := o.NextPending(message.TopicAlerts, 10)
	require.Len(t, pending, 2)
	for _, entry := range pending {
		assert.NotEqual(t, first, entry.ID)
	}
}

func TestSupersedeOlderKeepsLatest(t *testing.T) {
	o := openOutbox(t, t.TempDir(), Config{})
	defer o.Stop(time.Second)

	for i := 0; i < 3; i++ {
		_, err := o.Enqueue(message.TopicStatus, []byte(fmt.Sprintf("s%d", i)), message.QoSAtLeastOnce)
		require.NoError(t, err)
	}

	latest, ok := o.LatestPending(message.TopicStatus)
	require.True(t, ok)

	superseded, err := o.SupersedeOlder(message.TopicStatus, latest.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, superseded)

	pending := o.NextPending(message.TopicStatus, 10)
	require.Len(t, pending, 1)
	assert.Equal(t, latest.ID, pending[0].ID)
}

func TestCompactionPreservesStateAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	o := openOutbox(t, dir, Config{CompactThreshold: 2})
	var keep uint64
	for i := 0; i < 4; i++ {
		id, err := o.Enqueue(message.TopicRecommendation, []byte(fmt.Sprintf("p%d", i)), message.QoSAtLeastOnce)
		require.NoError(t, err)
		keep = id
	}
	// Settling two entries crosses the compaction threshold
	require.NoError(t, o.MarkAcknowledged(1))
	require.NoError(t, o.MarkAcknowledged(2))
	require.NoError(t, o.Stop(time.Second))

	reopened := openOutbox(t, dir, Config{})
	defer reopened.Stop(time.Second)

	pending := reopened.NextPending(message.TopicRecommendation, 10)
	require.Len(t, pending, 2)
	assert.Equal(t, keep, pending[1].ID)

	id, err := reopened.Enqueue(message.TopicRecommendation, []byte("next"), message.QoSAtLeastOnce)
	require.NoError(t, err)
	assert.Equal(t, keep+1, id, "sequence checkpoint survives compaction")
}

func TestPendingTopicsSorted(t *testing.T) {
	o := openOutbox(t, t.TempDir(), Config{})
	defer o.Stop(time.Second)

	_, err := o.Enqueue(message.TopicStatus, []byte("s"), message.QoSAtLeastOnce)
	require.NoError(t, err)
	_, err = o.Enqueue(message.TopicAlerts, []byte("a"), message.QoSExactlyOnce)
	require.NoError(t, err)

	assert.Equal(t, []string{message.TopicAlerts, message.TopicStatus}, o.PendingTopics())
}
