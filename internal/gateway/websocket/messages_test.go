package websocket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInboundValid(t *testing.T) {
	msg, err := DecodeInbound([]byte(`{"kind":"prompt","text":"hello"}`))
	require.NoError(t, err)
	assert.Equal(t, KindPrompt, msg.Kind)
	assert.Equal(t, "hello", msg.Text)

	msg, err = DecodeInbound([]byte(`{"kind":"command","name":"agent","args":["claude"]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"claude"}, msg.Args)

	msg, err = DecodeInbound([]byte(`{"kind":"task_resume","task_id":"t-1"}`))
	require.NoError(t, err)
	assert.Equal(t, "t-1", msg.TaskID)
}

func TestDecodeInboundRejectsUnknownKind(t *testing.T) {
	_, err := DecodeInbound([]byte(`{"kind":"shutdown"}`))
	require.Error(t, err)
}

func TestDecodeInboundRejectsMissingKind(t *testing.T) {
	_, err := DecodeInbound([]byte(`{"text":"no kind"}`))
	require.Error(t, err)
}

func TestDecodeInboundRejectsNonJSON(t *testing.T) {
	_, err := DecodeInbound([]byte(`not json`))
	require.Error(t, err)
}

func TestParseSubprotocols(t *testing.T) {
	sessionID, chatID, accepted := parseSubprotocols([]string{
		"ads-session.abc123",
		"ads-chat.main",
		"unrelated-proto",
	})
	assert.Equal(t, "abc123", sessionID)
	assert.Equal(t, "main", chatID)
	assert.Equal(t, []string{"ads-session.abc123", "ads-chat.main"}, accepted)
}

func TestParseSubprotocolsDefaults(t *testing.T) {
	sessionID, chatID, accepted := parseSubprotocols(nil)
	assert.Empty(t, sessionID)
	assert.Empty(t, chatID)
	assert.Empty(t, accepted)
}

func TestParseSubprotocolsFirstWins(t *testing.T) {
	sessionID, _, _ := parseSubprotocols([]string{"ads-session.one", "ads-session.two"})
	assert.Equal(t, "one", sessionID)
}

func TestHistoryCacheBounds(t *testing.T) {
	h := newHistoryCache(3)
	for i := 0; i < 5; i++ {
		h.Append("s", "main", &Outbound{Type: FrameResult, Message: string(rune('a' + i))})
	}
	frames := h.Replay("s", "main")
	require.Len(t, frames, 3)
	assert.Equal(t, "c", frames[0].Message, "oldest frames are evicted")

	assert.Empty(t, h.Replay("s", "other"), "chats are isolated")

	h.Clear("s", "main")
	assert.Empty(t, h.Replay("s", "main"))
}

func TestNewOutbound(t *testing.T) {
	frame, err := NewOutbound(FrameAgents, []AgentInfo{{ID: "codex", Ready: true}})
	require.NoError(t, err)
	assert.Equal(t, FrameAgents, frame.Type)
	assert.Contains(t, string(frame.Payload), "codex")
}
