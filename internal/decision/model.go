package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultEndpoint = "https://api.openai.com"
	DefaultModel    = "gpt-4o-mini"

	defaultTimeout = 10 * time.Second

	systemPrompt = "You judge whether a desktop user returning from idle should receive a short " +
		"refocus nudge. Reply with a single JSON object: " +
		`{"should_notify": bool, "message": string, "confidence": number between 0 and 1, "reasoning": string}.`
)

// ModelProvider asks an OpenAI-compatible chat-completions endpoint for
// a verdict. JSON anywhere in the reply wins; otherwise a keyword scan
// decides. Callers wanting a guaranteed verdict wrap it in a Failsafe.
type ModelProvider struct {
	endpoint string
	model    string
	apiKey   string
	client   *http.Client
}

func NewModelProvider(endpoint, model, apiKey string, timeout time.Duration) *ModelProvider {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if model == "" {
		model = DefaultModel
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &ModelProvider{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

func (p *ModelProvider) Name() string { return "model" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (p *ModelProvider) Generate(ctx context.Context, in Input) (Verdict, error) {
	body, err := json.Marshal(chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(in)},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to encode chat request: %w", err)
	}

	url := p.endpoint + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Verdict{}, fmt.Errorf("chat endpoint returned %s", resp.Status)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Verdict{}, fmt.Errorf("failed to decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Verdict{}, fmt.Errorf("chat response has no choices")
	}

	return verdictFromText(parsed.Choices[0].Message.Content), nil
}

func buildPrompt(in Input) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "The user was idle for %d seconds.\n", in.IdleSeconds)
	fmt.Fprintf(&sb, "Session length: %d seconds, %d window changes", in.SessionSeconds, in.WindowChanges)
	if in.TopApplication != "" {
		fmt.Fprintf(&sb, ", mostly in %s", in.TopApplication)
	}
	sb.WriteString(".\n")
	if len(in.RecentWindows) > 0 {
		sb.WriteString("Recent windows:\n")
		for _, w := range in.RecentWindows {
			fmt.Fprintf(&sb, "- %s: %s\n", w.ApplicationName, truncate(w.WindowTitle, 80))
		}
	}
	sb.WriteString("Should the user get a refocus nudge right now?")
	return sb.String()
}

// verdictFromText extracts a verdict from a model reply. The JSON
// object between the first '{' and the last '}' wins when it parses;
// otherwise a keyword scan of the raw text decides.
func verdictFromText(text string) Verdict {
	trimmed := strings.TrimSpace(text)

	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			var v Verdict
			if err := json.Unmarshal([]byte(trimmed[start:end+1]), &v); err == nil {
				v.Type = VerdictGetFocusBack
				v.Confidence = clamp01(v.Confidence)
				if v.Message == "" {
					v.Message = "Time to get your focus back."
				}
				if v.Reasoning == "" {
					v.Reasoning = "parsed from model reply"
				}
				return v
			}
		}
	}

	lower := strings.ToLower(trimmed)
	notify := strings.Contains(lower, "notify") || strings.Contains(lower, "yes")
	confidence := 0.3
	if notify {
		confidence = 0.7
	}
	return Verdict{
		Type:         VerdictGetFocusBack,
		ShouldNotify: notify,
		Message:      truncate(trimmed, 200),
		Confidence:   confidence,
		Reasoning:    "derived from unstructured model reply",
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
