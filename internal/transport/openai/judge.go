package openai

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const judgeSystemPrompt = `You rank text passages by relevance to a search query.
Reply with the passage numbers only, most relevant first, separated by commas.
Example reply: 3, 1, 2`

// Judge scores candidate passages with an OpenAI-compatible chat model in a
// single listwise call. Callers treat it as unreliable: any transport or
// parse failure surfaces as an error and the retrieval layer keeps the
// first-stage ranking.
type Judge struct {
	client *openai.Client
	model  string
}

// JudgeConfig holds the relevance judge settings.
type JudgeConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// NewJudge creates an OpenAI-compatible listwise relevance judge.
func NewJudge(cfg *JudgeConfig) *Judge {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Judge{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}
}

// Rank returns 0-based indices into texts, most relevant first. The model's
// reply may omit or repeat passages; the returned slice carries whatever
// parsed cleanly and the caller fills the gaps.
func (j *Judge) Rank(ctx context.Context, query string, texts []string) ([]int, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := j.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       j.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: judgeSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildJudgePrompt(query, texts)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("judge completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("judge returned no choices")
	}

	order := parseRanking(resp.Choices[0].Message.Content, len(texts))
	if len(order) == 0 {
		return nil, fmt.Errorf("judge reply %q contains no valid passage numbers", resp.Choices[0].Message.Content)
	}
	return order, nil
}

// buildJudgePrompt numbers the candidates from 1 so the model and the parser
// agree on the index base.
func buildJudgePrompt(query string, texts []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\nPassages:\n", query)
	for i, text := range texts {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, text)
	}
	b.WriteString("\nRank all passages by relevance to the query.")
	return b.String()
}

var rankingNumbers = regexp.MustCompile(`\d+`)

// parseRanking extracts 1-based passage numbers from the model reply and
// converts them to deduplicated 0-based indices, dropping out-of-range ones.
func parseRanking(reply string, n int) []int {
	matches := rankingNumbers.FindAllString(reply, -1)
	out := make([]int, 0, n)
	seen := make(map[int]bool, n)
	for _, m := range matches {
		v, err := strconv.Atoi(m)
		if err != nil || v < 1 || v > n || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v-1)
	}
	return out
}
