package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func judgeServer(t *testing.T, reply string, capture *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if capture != nil && len(req.Messages) > 1 {
			*capture = req.Messages[1].Content
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": reply}},
			},
		})
	}))
}

func TestJudge_Rank(t *testing.T) {
	var prompt string
	server := judgeServer(t, "3, 1, 2", &prompt)
	defer server.Close()

	judge := NewJudge(&JudgeConfig{APIKey: "test-key", BaseURL: server.URL, Model: "test-model"})

	order, err := judge.Rank(context.Background(), "liquidity covenant", []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}

	want := []int{2, 0, 1}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}

	if !strings.Contains(prompt, "liquidity covenant") {
		t.Error("prompt must contain the query")
	}
	if !strings.Contains(prompt, "[1] a") || !strings.Contains(prompt, "[3] c") {
		t.Errorf("prompt must number the passages from 1:\n%s", prompt)
	}
}

func TestJudge_RankEmptyInput(t *testing.T) {
	judge := NewJudge(&JudgeConfig{APIKey: "test-key", Model: "test-model"})

	order, err := judge.Rank(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	if order != nil {
		t.Errorf("order = %v, want nil", order)
	}
}

func TestJudge_RankUnparsableReply(t *testing.T) {
	server := judgeServer(t, "the most relevant passage is the first one", nil)
	defer server.Close()

	judge := NewJudge(&JudgeConfig{APIKey: "test-key", BaseURL: server.URL, Model: "test-model"})

	_, err := judge.Rank(context.Background(), "q", []string{"a", "b"})
	if err == nil {
		t.Fatal("expected error for a reply without passage numbers")
	}
}

func TestJudge_RankServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	judge := NewJudge(&JudgeConfig{APIKey: "test-key", BaseURL: server.URL, Model: "test-model"})

	_, err := judge.Rank(context.Background(), "q", []string{"a", "b"})
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
}

func TestParseRanking(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		n     int
		want  []int
	}{
		{"plain csv", "2, 1, 3", 3, []int{1, 0, 2}},
		{"prose around numbers", "Ranking: 3 then 1 then 2.", 3, []int{2, 0, 1}},
		{"duplicates dropped", "1, 1, 2", 2, []int{0, 1}},
		{"out of range dropped", "0, 4, 2", 3, []int{1}},
		{"partial ranking", "2", 3, []int{1}},
		{"no numbers", "none of these", 3, []int{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseRanking(tt.reply, tt.n)
			if len(got) != len(tt.want) {
				t.Fatalf("parseRanking(%q) = %v, want %v", tt.reply, got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Fatalf("parseRanking(%q) = %v, want %v", tt.reply, got, tt.want)
				}
			}
		})
	}
}
