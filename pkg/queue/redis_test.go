package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisBroker(t *testing.T, instance string) (*RedisBroker, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	t.Cleanup(func() { assert.NoError(t, mock.ExpectationsWereMet()) })
	return NewRedisBroker(db, WithKeyPrefix("q"), WithInstance(instance)), mock
}

func testMessage(state State) *Message {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return &Message{ID: "job-1", Queue: "eod", Type: "ingest", State: state, MaxAttempts: 3, EnqueuedAt: at, RunAt: at}
}

func encoded(t *testing.T, msg *Message) []byte {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	return data
}

func TestRedisBroker_AddQueuedPushesReady(t *testing.T) {
	b, mock := newTestRedisBroker(t, "w1")
	msg := testMessage(StateQueued)

	mock.ExpectTxPipeline()
	mock.ExpectSet("q:eod:job:job-1", encoded(t, msg), 0).SetVal("OK")
	mock.ExpectLPush("q:eod:ready", "job-1").SetVal(1)
	mock.ExpectTxPipelineExec()

	require.NoError(t, b.Add(context.Background(), msg))
}

func TestRedisBroker_AddDelayedScoresRunAt(t *testing.T) {
	b, mock := newTestRedisBroker(t, "w1")
	msg := testMessage(StateDelayed)

	mock.ExpectTxPipeline()
	mock.ExpectSet("q:eod:job:job-1", encoded(t, msg), 0).SetVal("OK")
	mock.ExpectZAdd("q:eod:delayed", redis.Z{Score: float64(msg.RunAt.UnixMilli()), Member: "job-1"}).SetVal(1)
	mock.ExpectTxPipelineExec()

	require.NoError(t, b.Add(context.Background(), msg))
}

func TestRedisBroker_ReserveMovesIntoInstanceActiveList(t *testing.T) {
	b, mock := newTestRedisBroker(t, "w1")
	msg := testMessage(StateQueued)

	mock.ExpectBLMove("q:eod:ready", "q:eod:active:w1", "RIGHT", "LEFT", time.Second).SetVal("job-1")
	mock.ExpectGet("q:eod:job:job-1").SetVal(string(encoded(t, msg)))

	got, err := b.Reserve(context.Background(), "eod", time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "job-1", got.ID)
	assert.Equal(t, "ingest", got.Type)
}

func TestRedisBroker_ReserveTimeoutReturnsNothing(t *testing.T) {
	b, mock := newTestRedisBroker(t, "w1")

	mock.ExpectBLMove("q:eod:ready", "q:eod:active:w1", "RIGHT", "LEFT", time.Second).RedisNil()

	got, err := b.Reserve(context.Background(), "eod", time.Second)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisBroker_ReserveDropsExpiredRecord(t *testing.T) {
	b, mock := newTestRedisBroker(t, "w1")

	mock.ExpectBLMove("q:eod:ready", "q:eod:active:w1", "RIGHT", "LEFT", time.Second).SetVal("gone")
	mock.ExpectGet("q:eod:job:gone").RedisNil()
	mock.ExpectLRem("q:eod:active:w1", 1, "gone").SetVal(1)

	got, err := b.Reserve(context.Background(), "eod", time.Second)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisBroker_RetryLeavesActiveForDelayed(t *testing.T) {
	b, mock := newTestRedisBroker(t, "w1")
	msg := testMessage(StateDelayed)
	msg.Attempts = 1
	msg.RunAt = msg.RunAt.Add(10 * time.Second)

	mock.ExpectTxPipeline()
	mock.ExpectLRem("q:eod:active:w1", 1, "job-1").SetVal(1)
	mock.ExpectSet("q:eod:job:job-1", encoded(t, msg), 0).SetVal("OK")
	mock.ExpectZAdd("q:eod:delayed", redis.Z{Score: float64(msg.RunAt.UnixMilli()), Member: "job-1"}).SetVal(1)
	mock.ExpectTxPipelineExec()

	require.NoError(t, b.Retry(context.Background(), msg))
}

func TestRedisBroker_FinishTrimsHistoryToRetention(t *testing.T) {
	b, mock := newTestRedisBroker(t, "w1")
	msg := testMessage(StateCompleted)

	mock.ExpectTxPipeline()
	mock.ExpectLRem("q:eod:active:w1", 1, "job-1").SetVal(1)
	mock.ExpectLPush("q:eod:completed", "job-1").SetVal(1)
	mock.ExpectLTrim("q:eod:completed", 0, 9).SetVal("OK")
	mock.ExpectSet("q:eod:job:job-1", encoded(t, msg), time.Hour).SetVal("OK")
	mock.ExpectTxPipelineExec()

	require.NoError(t, b.Finish(context.Background(), msg, 10, time.Hour))
}

func TestRedisBroker_FailedJobsLandInFailedHistory(t *testing.T) {
	b, mock := newTestRedisBroker(t, "w1")
	msg := testMessage(StateFailed)
	msg.FailedReason = "boom"

	mock.ExpectTxPipeline()
	mock.ExpectLRem("q:eod:active:w1", 1, "job-1").SetVal(1)
	mock.ExpectLPush("q:eod:failed", "job-1").SetVal(1)
	mock.ExpectLTrim("q:eod:failed", 0, 99).SetVal("OK")
	mock.ExpectSet("q:eod:job:job-1", encoded(t, msg), time.Minute).SetVal("OK")
	mock.ExpectTxPipelineExec()

	require.NoError(t, b.Finish(context.Background(), msg, 100, time.Minute))
}

func TestRedisBroker_PromoteDueCountsOnlyWhatItMoved(t *testing.T) {
	b, mock := newTestRedisBroker(t, "w1")
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	keys := []string{"q:eod:delayed", "q:eod:ready"}

	mock.ExpectZRangeByScore("q:eod:delayed", &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: 500,
	}).SetVal([]string{"a", "b"})
	mock.ExpectEvalSha(promoteScript.Hash(), keys, "a").SetVal(int64(1))
	// another promoter already took b
	mock.ExpectEvalSha(promoteScript.Hash(), keys, "b").SetVal(int64(0))

	n, err := b.PromoteDue(context.Background(), "eod", now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRedisBroker_RecoverOnlyTouchesOwnActiveList(t *testing.T) {
	b, mock := newTestRedisBroker(t, "w1")

	mock.ExpectSAdd("q:eod:instances", "w1").SetVal(1)
	mock.ExpectLMove("q:eod:active:w1", "q:eod:ready", "RIGHT", "RIGHT").SetVal("a")
	mock.ExpectLMove("q:eod:active:w1", "q:eod:ready", "RIGHT", "RIGHT").SetVal("b")
	mock.ExpectLMove("q:eod:active:w1", "q:eod:ready", "RIGHT", "RIGHT").RedisNil()

	n, err := b.Recover(context.Background(), "eod")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRedisBroker_StatusMergesEveryInstance(t *testing.T) {
	b, mock := newTestRedisBroker(t, "w1")
	running := testMessage(StateActive)
	other := testMessage(StateActive)
	other.ID = "job-2"

	mock.ExpectSMembers("q:eod:instances").SetVal([]string{"w1", "w2"})
	mock.ExpectLLen("q:eod:ready").SetVal(0)
	mock.ExpectZCard("q:eod:delayed").SetVal(4)
	mock.ExpectLRange("q:eod:active:w1", 0, 4).SetVal([]string{"job-1"})
	mock.ExpectLRange("q:eod:active:w2", 0, 4).SetVal([]string{"job-2"})
	mock.ExpectLRange("q:eod:ready", -5, -1).SetVal(nil)
	mock.ExpectLRange("q:eod:completed", 0, 4).SetVal(nil)
	mock.ExpectLRange("q:eod:failed", 0, 4).SetVal(nil)
	mock.ExpectMGet("q:eod:job:job-1", "q:eod:job:job-2").SetVal([]interface{}{
		string(encoded(t, running)),
		string(encoded(t, other)),
	})

	st, err := b.Status(context.Background(), "eod", 5)
	require.NoError(t, err)
	assert.EqualValues(t, 4, st.Delayed)
	require.Len(t, st.Active, 2)
	assert.Equal(t, "job-1", st.Active[0].ID)
	assert.Equal(t, "job-2", st.Active[1].ID)
	assert.Empty(t, st.Pending)
}

func TestRedisBroker_GetMissingReturnsErrJobNotFound(t *testing.T) {
	b, mock := newTestRedisBroker(t, "w1")

	mock.ExpectGet("q:eod:job:nope").RedisNil()

	_, err := b.Get(context.Background(), "eod", "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}
