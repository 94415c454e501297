package usecase

import (
	"testing"

	"github.com/stretchr/testify/require"

	"relocation-assistant/internal/domain"
)

func TestBuildReplyMessages_SkipsInvalidHistory(t *testing.T) {
	history := []domain.Turn{
		{Role: domain.RoleUser, Content: "q1"},
		{Role: domain.Role("tool"), Content: "ignored"},
		{Role: domain.RoleAssistant, Content: "  "},
		{Role: domain.RoleAssistant, Content: "a1"},
	}
	got := buildReplyMessages("", history, "q2")
	require.Equal(t, []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "q1"},
		{Role: domain.RoleAssistant, Content: "a1"},
		{Role: domain.RoleUser, Content: "q2"},
	}, got)
}

func TestBuildDigestMessages(t *testing.T) {
	got := buildDigestMessages("system", "find news")
	require.Equal(t, []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: "system"},
		{Role: domain.RoleUser, Content: "find news"},
	}, got)
}

func TestWithInstructions(t *testing.T) {
	base := []domain.ChatMessage{{Role: domain.RoleSystem, Content: "s"}, {Role: domain.RoleUser, Content: "u"}}

	got := withInstructions(base, "one", "two")
	require.Equal(t, "u\n\none\n\ntwo", got[1].Content)
	require.Equal(t, "u", base[1].Content)

	onlySystem := withInstructions(base[:1], "x")
	require.Len(t, onlySystem, 2)
	require.Equal(t, domain.ChatMessage{Role: domain.RoleUser, Content: "x"}, onlySystem[1])
}

func TestTrimHistory(t *testing.T) {
	history := []domain.Turn{{Content: "aaaaaaaa"}, {Content: "bbbb"}, {Content: "привет"}}

	require.Equal(t, history, trimHistory(history, 0))
	require.Equal(t, history[2:], trimHistory(history, 6))
	require.Equal(t, history[1:], trimHistory(history, 7))
	require.Empty(t, trimHistory(history, 5))
}

func TestEstimateTokens(t *testing.T) {
	require.Equal(t, 0, estimateTokens(""))
	require.Equal(t, 1, estimateTokens("abcd"))
	require.Equal(t, 2, estimateTokens("abcde"))
	require.Equal(t, 6, estimateTokens("привет"))
}

func TestQuoteReply(t *testing.T) {
	require.Equal(t, "text", quoteReply("Reply to message", "  ", "text"))
	require.Equal(t, "(Reply to message: 'orig') text", quoteReply("Reply to message", " orig ", "text"))
}

func TestContainsAnyFold(t *testing.T) {
	match, ok := containsAnyFold("Источник: ВИКИПЕДИЯ", []string{"reddit", "википеди"})
	require.True(t, ok)
	require.Equal(t, "википеди", match)

	_, ok = containsAnyFold("clean", []string{"", " "})
	require.False(t, ok)
}
