package usecase

import (
	"strings"

	"relocation-assistant/internal/domain"
)

// buildReplyMessages assembles the system prompt, replayed history and the
// new user turn, in that order.
func buildReplyMessages(systemPrompt string, history []domain.Turn, utterance string) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, len(history)+2)
	if p := strings.TrimSpace(systemPrompt); p != "" {
		messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: p})
	}
	for _, t := range history {
		if !t.Role.Valid() || strings.TrimSpace(t.Content) == "" {
			continue
		}
		messages = append(messages, domain.ChatMessage{Role: t.Role, Content: t.Content})
	}
	return append(messages, domain.ChatMessage{Role: domain.RoleUser, Content: utterance})
}

// buildDigestMessages ignores history: the instruction is the only user turn.
func buildDigestMessages(systemPrompt, instruction string) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, 2)
	if p := strings.TrimSpace(systemPrompt); p != "" {
		messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: p})
	}
	return append(messages, domain.ChatMessage{Role: domain.RoleUser, Content: instruction})
}

// withInstructions returns a copy of messages whose final user turn carries
// the extra instructions. messages is not modified.
func withInstructions(messages []domain.ChatMessage, instructions ...string) []domain.ChatMessage {
	out := make([]domain.ChatMessage, len(messages))
	copy(out, messages)
	if len(instructions) == 0 {
		return out
	}
	extra := strings.Join(instructions, "\n\n")
	for i := len(out) - 1; i >= 0; i-- {
		if out[i].Role == domain.RoleUser {
			out[i].Content = out[i].Content + "\n\n" + extra
			return out
		}
	}
	return append(out, domain.ChatMessage{Role: domain.RoleUser, Content: extra})
}

// trimHistory drops the oldest turns until the rest fits in budget estimated
// tokens. A budget of zero disables trimming.
func trimHistory(history []domain.Turn, budget int) []domain.Turn {
	if budget <= 0 {
		return history
	}
	total := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := estimateTokens(history[i].Content)
		if total+cost > budget {
			break
		}
		total += cost
		start = i
	}
	return history[start:]
}

// estimateTokens weighs ASCII at a quarter token and everything else
// (Cyrillic included) at a full token.
func estimateTokens(text string) int {
	weight := 0
	for _, r := range text {
		if r <= 127 {
			weight++
		} else {
			weight += 4
		}
	}
	return (weight + 3) / 4
}

// quoteReply prefixes text with the message it answers.
func quoteReply(label, quoted, text string) string {
	quoted = strings.TrimSpace(quoted)
	if quoted == "" {
		return text
	}
	return "(" + label + ": '" + quoted + "') " + text
}

func containsAnyFold(text string, needles []string) (string, bool) {
	lower := strings.ToLower(text)
	for _, n := range needles {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" && strings.Contains(lower, n) {
			return n, true
		}
	}
	return "", false
}
