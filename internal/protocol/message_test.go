package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageKindIsValid(t *testing.T) {
	assert.True(t, MessageKindChat.IsValid())
	assert.True(t, MessageKindJoin.IsValid())
	assert.True(t, MessageKindLeave.IsValid())
	assert.False(t, MessageKind("SHOUT").IsValid())
	assert.False(t, MessageKind("").IsValid())
}

func TestSameEventComparesByIDWhenBothPresent(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := NewChatEvent(1, 10, "alice", "hello", at)
	b := NewChatEvent(1, 99, "someone else", "different content", at.Add(time.Hour))
	c := NewChatEvent(2, 10, "alice", "hello", at)

	// same ID wins even when every other field differs
	assert.True(t, a.SameEvent(b))
	assert.False(t, a.SameEvent(c))
}

func TestSameEventFallbackForIDLessEvents(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	join := NewJoinEvent(10, "alice", at)

	assert.True(t, join.SameEvent(NewJoinEvent(10, "alice", at)))
	assert.False(t, join.SameEvent(NewJoinEvent(10, "alice", at.Add(time.Second))))
	assert.False(t, join.SameEvent(NewJoinEvent(11, "bob", at)))
	assert.False(t, join.SameEvent(NewLeaveEvent(10, "alice", at)))
}

func TestSameEventMixedIDPresenceUsesFallback(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	persisted := NewChatEvent(7, 10, "alice", "hello", at)
	local := ChatEvent{Content: "hello", SentAt: at, UserID: 10, UserName: "alice", Type: MessageKindChat}

	// an optimistic local echo without an ID matches its persisted twin
	assert.True(t, persisted.SameEvent(local))
	assert.True(t, local.SameEvent(persisted))
}

func TestChatEventJSONShape(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	data, err := json.Marshal(NewChatEvent(3, 10, "alice", "hello", at))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, float64(3), raw["id"])
	assert.Equal(t, float64(10), raw["userId"])
	assert.Equal(t, "alice", raw["userName"])
	assert.Equal(t, "CHAT", raw["messageType"])

	// ephemeral events omit the id entirely
	data, err = json.Marshal(NewJoinEvent(10, "alice", at))
	require.NoError(t, err)
	raw = nil
	require.NoError(t, json.Unmarshal(data, &raw))
	_, hasID := raw["id"]
	assert.False(t, hasID)
}

func TestTopicHelpers(t *testing.T) {
	assert.Equal(t, "/topic/livewatch/rooms/42/messages", MessagesTopic(42))
	assert.Equal(t, "/topic/livewatch/rooms/42/events", EventsTopic(42))

	assert.True(t, IsMessagesTopic(MessagesTopic(1)))
	assert.False(t, IsMessagesTopic(EventsTopic(1)))
	assert.True(t, IsEventsTopic(EventsTopic(1)))
	assert.False(t, IsEventsTopic(ErrorQueue))
}

func TestFrameValidate(t *testing.T) {
	valid := NewSubscribeFrame("sub-1", MessagesTopic(1))
	assert.NoError(t, valid.Validate())

	missingDest := &Frame{Type: FrameSend}
	assert.Error(t, missingDest.Validate())

	badType := &Frame{Type: FrameType("NOPE")}
	assert.Error(t, badType.Validate())

	// server error frames carry no destination and are still valid
	assert.NoError(t, NewErrorFrame("boom").Validate())
}

func TestSendFrameCarriesBody(t *testing.T) {
	frame, err := NewSendFrame(SendDestination, SendMessageRequest{LiveWatchRoomID: 9, Content: "hi"})
	require.NoError(t, err)

	var req SendMessageRequest
	require.NoError(t, json.Unmarshal(frame.Body, &req))
	assert.Equal(t, int64(9), req.LiveWatchRoomID)
	assert.Equal(t, "hi", req.Content)
}
