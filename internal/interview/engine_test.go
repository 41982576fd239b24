package interview

import (
	"context"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedChat struct {
	replies []string
	calls   []openai.ChatCompletionRequest
}

func (s *scriptedChat) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.calls = append(s.calls, req)
	reply := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: reply}},
		},
	}, nil
}

func newTestEngine(chat *scriptedChat, maxQuestions int) *Engine {
	e := NewEngine(nil, "test-model", "You are an interviewer.", maxQuestions)
	e.api = chat
	return e
}

func TestOpeningQuestionHasNoUserMessage(t *testing.T) {
	chat := &scriptedChat{replies: []string{`{"text":"Tell me about yourself.","expression":"happy"}`}}
	e := newTestEngine(chat, 3)

	turn, err := e.NextTurn(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, "Tell me about yourself.", turn.Text)
	assert.Equal(t, "happy", turn.Expression)
	assert.False(t, turn.Finished)
	assert.Equal(t, 1, turn.Number)
	assert.Equal(t, 3, turn.Total)

	for _, msg := range chat.calls[0].Messages {
		assert.NotEqual(t, openai.ChatMessageRoleUser, msg.Role)
	}
}

func TestAnswersAccumulateInHistory(t *testing.T) {
	chat := &scriptedChat{replies: []string{`{"text":"Q","expression":"neutral"}`}}
	e := newTestEngine(chat, 5)

	_, err := e.NextTurn(context.Background(), "")
	require.NoError(t, err)
	_, err = e.NextTurn(context.Background(), "I am a Go developer.")
	require.NoError(t, err)

	var userMessages []string
	for _, msg := range chat.calls[1].Messages {
		if msg.Role == openai.ChatMessageRoleUser {
			userMessages = append(userMessages, msg.Content)
		}
	}
	assert.Equal(t, []string{"I am a Go developer."}, userMessages)
}

func TestClosesAfterQuestionBudget(t *testing.T) {
	chat := &scriptedChat{replies: []string{`{"text":"reply","expression":"neutral"}`}}
	e := newTestEngine(chat, 2)

	ctx := context.Background()
	first, err := e.NextTurn(ctx, "")
	require.NoError(t, err)
	assert.False(t, first.Finished)

	second, err := e.NextTurn(ctx, "answer one")
	require.NoError(t, err)
	assert.False(t, second.Finished)
	assert.Equal(t, 2, second.Number)

	closing, err := e.NextTurn(ctx, "answer two")
	require.NoError(t, err)
	assert.True(t, closing.Finished)
}

func TestParseReplyToleratesPlainText(t *testing.T) {
	text, expression := parseReply("Just a plain sentence.")
	assert.Equal(t, "Just a plain sentence.", text)
	assert.Equal(t, "neutral", expression)
}

func TestParseReplyStripsCodeFence(t *testing.T) {
	text, expression := parseReply("```json\n{\"text\":\"Hi\",\"expression\":\"happy\"}\n```")
	assert.Equal(t, "Hi", text)
	assert.Equal(t, "happy", expression)
}
