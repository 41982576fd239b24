// Package interview drives the question flow: a chat model plays the
// interviewer, one turn per candidate answer, with a bounded number of
// questions.
package interview

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

const responseFormatHint = `Reply with a JSON object: {"text": "<what you say out loud>", "expression": "<one of: neutral, happy, thinking, surprised>"}. No markdown, no extra keys.`

// Turn is one interviewer utterance.
type Turn struct {
	Text       string
	Expression string
	Finished   bool
	Number     int
	Total      int
}

type chatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Engine holds the conversation history for one session. Safe for
// concurrent use, though the session calls it from one task at a time.
type Engine struct {
	api          chatAPI
	model        string
	maxQuestions int

	mu      sync.Mutex
	history []openai.ChatCompletionMessage
	asked   int
}

func NewEngine(client *openai.Client, model, persona string, maxQuestions int) *Engine {
	system := strings.TrimSpace(persona) + "\n\n" + responseFormatHint
	return &Engine{
		api:          client,
		model:        model,
		maxQuestions: maxQuestions,
		history: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
		},
	}
}

// NextTurn advances the interview. An empty answer asks for the opening
// question; after the question budget is spent the returned turn is a
// closing statement with Finished set.
func (e *Engine) NextTurn(ctx context.Context, answer string) (Turn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if answer != "" {
		e.history = append(e.history, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: answer,
		})
	}

	closing := e.asked >= e.maxQuestions
	prompt := "Ask the next interview question."
	if e.asked == 0 {
		prompt = "Greet the candidate briefly and ask the first interview question."
	}
	if closing {
		prompt = "The interview is over. Thank the candidate and close the conversation in two sentences. Do not ask anything."
	}
	e.history = append(e.history, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: prompt,
	})

	resp, err := e.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    e.model,
		Messages: e.history,
	})
	if err != nil {
		return Turn{}, fmt.Errorf("interview turn: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Turn{}, fmt.Errorf("interview turn: empty completion")
	}
	content := resp.Choices[0].Message.Content
	e.history = append(e.history, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleAssistant,
		Content: content,
	})

	text, expression := parseReply(content)
	if closing {
		return Turn{Text: text, Expression: expression, Finished: true, Number: e.asked, Total: e.maxQuestions}, nil
	}
	e.asked++
	log.Debug().Str("module", "interview").Int("question", e.asked).Int("total", e.maxQuestions).Msg("question generated")
	return Turn{Text: text, Expression: expression, Number: e.asked, Total: e.maxQuestions}, nil
}

// parseReply extracts the spoken text and expression from the model reply,
// tolerating replies that ignore the JSON format.
func parseReply(content string) (string, string) {
	content = strings.TrimSpace(content)
	trimmed := strings.TrimPrefix(content, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	var r struct {
		Text       string `json:"text"`
		Expression string `json:"expression"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(trimmed)), &r); err == nil && r.Text != "" {
		if r.Expression == "" {
			r.Expression = "neutral"
		}
		return r.Text, r.Expression
	}
	return content, "neutral"
}
