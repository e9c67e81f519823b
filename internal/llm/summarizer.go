package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethdevwatch/ethdevwatch/internal/domain"
	"github.com/ethdevwatch/ethdevwatch/internal/timeutil"
)

// ChatCompleter abstracts the chat client for tests.
type ChatCompleter interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Draft is the generated article body before persistence.
type Draft struct {
	Title string
	HTML  string
}

// weeklySummary is the JSON shape the model is asked to produce.
type weeklySummary struct {
	Title            string            `json:"title"`
	Summary          string            `json:"summary"`
	MeetingSummaries []meetingSummary  `json:"meeting_summaries"`
	TechnicalUpdates []technicalUpdate `json:"technical_updates"`
}

type meetingSummary struct {
	Title     string   `json:"title"`
	KeyPoints []string `json:"key_points"`
	Decisions []string `json:"decisions"`
}

type technicalUpdate struct {
	Area    string `json:"area"`
	Changes string `json:"changes"`
	Impact  string `json:"impact"`
}

const summarySystemPrompt = `You are a technical writer specializing in blockchain technology documentation.
Your task is to create comprehensive weekly summaries of Ethereum development that balance technical accuracy with accessibility.

Most important rules:
1. Use plain language that anyone can understand
2. Explain complex ideas in simple terms
3. Focus on real-world impact and benefits
4. Avoid technical jargon in titles
5. Make concepts accessible to regular users

Respond with JSON only, no prose around it, using exactly this structure:
{
  "title": "A clear, non-technical title without dates",
  "summary": "A detailed overview of the week in plain language",
  "meeting_summaries": [
    {"title": "...", "key_points": ["..."], "decisions": ["..."]}
  ],
  "technical_updates": [
    {"area": "...", "changes": "...", "impact": "..."}
  ]
}`

// Summarizer turns a week of repository activity into a finished article.
type Summarizer struct {
	chat ChatCompleter
	log  *slog.Logger
}

func NewSummarizer(chat ChatCompleter, log *slog.Logger) *Summarizer {
	if log == nil {
		log = slog.Default().With("component", "summarizer")
	}
	return &Summarizer{chat: chat, log: log}
}

// GenerateWeeklySummary filters items to the week starting at weekStart
// (half-open, clipped at now), prompts the model for the structured summary
// and renders it into the fixed article HTML. A nil, nil return means there
// was nothing to summarize, which is a normal outcome. Malformed model JSON
// is a hard error.
func (s *Summarizer) GenerateWeeklySummary(ctx context.Context, items []domain.ContentItem, weekStart time.Time) (*Draft, error) {
	weekStart = timeutil.MondayOf(weekStart)
	weekEnd := weekStart.AddDate(0, 0, 7)
	if now := timeutil.Now(); weekEnd.After(now) {
		weekEnd = now
	}

	var inWeek []domain.ContentItem
	for _, item := range items {
		ts := timeutil.ToUTC(item.CreatedAt)
		if !ts.Before(weekStart) && ts.Before(weekEnd) {
			inWeek = append(inWeek, item)
		}
	}
	if len(inWeek) == 0 {
		s.log.Info("no items inside target week, nothing to summarize", "week_start", weekStart)
		return nil, nil
	}

	s.log.Info("generating weekly summary", "week_start", weekStart, "items", len(inWeek))

	user := buildUserPrompt(inWeek, weekStart)
	content, err := s.chat.Complete(ctx, summarySystemPrompt, user)
	if err != nil {
		return nil, fmt.Errorf("failed to generate summary: %w", err)
	}

	var summary weeklySummary
	if err := json.Unmarshal([]byte(stripCodeFence(content)), &summary); err != nil {
		return nil, fmt.Errorf("model returned malformed JSON: %w", err)
	}
	if summary.Title == "" || summary.Summary == "" {
		return nil, fmt.Errorf("model response is missing required title or summary")
	}

	html, err := renderArticle(summary)
	if err != nil {
		return nil, fmt.Errorf("failed to render article: %w", err)
	}

	return &Draft{Title: summary.Title, HTML: html}, nil
}

func buildUserPrompt(items []domain.ContentItem, weekStart time.Time) string {
	type promptItem struct {
		Type      string `json:"type"`
		Title     string `json:"title"`
		URL       string `json:"url"`
		CreatedAt string `json:"created_at"`
	}

	payload := make([]promptItem, 0, len(items))
	for _, item := range items {
		payload = append(payload, promptItem{
			Type:      string(item.Type),
			Title:     item.Title,
			URL:       item.URL,
			CreatedAt: item.CreatedAt.Format(time.RFC3339),
		})
	}
	encoded, _ := json.MarshalIndent(payload, "", "  ")

	return fmt.Sprintf(`Create a simple, easy-to-understand update about Ethereum development for the week of %s.
Remember:
- Explain the main improvements in plain language
- Avoid technical jargon and quotation marks in titles
- Focus on real-world benefits
- Respond with the JSON structure only

Here are the technical updates to analyze:
%s`, weekStart.Format("2006-01-02"), string(encoded))
}

// stripCodeFence unwraps a completion the model wrapped in a markdown fence.
func stripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}
