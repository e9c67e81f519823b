package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethdevwatch/ethdevwatch/internal/domain"
	"github.com/ethdevwatch/ethdevwatch/internal/timeutil"
)

type fakeChat struct {
	reply string
	err   error

	lastUser string
	calls    int
}

func (f *fakeChat) Complete(ctx context.Context, system, user string) (string, error) {
	f.calls++
	f.lastUser = user
	return f.reply, f.err
}

var weekStart = time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)

func itemAt(title string, ts time.Time) domain.ContentItem {
	return domain.ContentItem{
		Type:      domain.ItemIssue,
		Title:     title,
		URL:       "https://github.com/ethereum/pm/issues/1",
		CreatedAt: ts,
	}
}

func validReply() string {
	b, _ := json.Marshal(weeklySummary{
		Title:   "Faster Blocks This Week",
		Summary: "The network got quicker.",
		MeetingSummaries: []meetingSummary{
			{Title: "Core Devs Call", KeyPoints: []string{"shipped the thing"}, Decisions: []string{"ship more"}},
		},
		TechnicalUpdates: []technicalUpdate{
			{Area: "Consensus", Changes: "tuned timeouts", Impact: "fewer missed slots"},
		},
	})
	return string(b)
}

func TestGenerateWeeklySummary(t *testing.T) {
	restore := timeutil.SetNow(func() time.Time { return weekStart.AddDate(0, 0, 14) })
	defer restore()

	chat := &fakeChat{reply: validReply()}
	s := NewSummarizer(chat, nil)

	draft, err := s.GenerateWeeklySummary(context.Background(),
		[]domain.ContentItem{itemAt("in week", weekStart.Add(time.Hour))}, weekStart)

	require.NoError(t, err)
	require.NotNil(t, draft)
	assert.Equal(t, "Faster Blocks This Week", draft.Title)
	assert.Contains(t, draft.HTML, "The network got quicker.")
	assert.Contains(t, draft.HTML, "Meeting Summaries")
	assert.Contains(t, draft.HTML, "Core Devs Call")
	assert.Contains(t, draft.HTML, "Technical Updates")
	assert.Contains(t, draft.HTML, "fewer missed slots")
}

func TestGenerateWeeklySummaryFiltersHalfOpenWindow(t *testing.T) {
	restore := timeutil.SetNow(func() time.Time { return weekStart.AddDate(0, 0, 14) })
	defer restore()

	chat := &fakeChat{reply: validReply()}
	s := NewSummarizer(chat, nil)

	items := []domain.ContentItem{
		itemAt("on start", weekStart),
		itemAt("inside", weekStart.Add(72*time.Hour)),
		itemAt("on next monday", weekStart.AddDate(0, 0, 7)),
		itemAt("before", weekStart.Add(-time.Minute)),
	}
	_, err := s.GenerateWeeklySummary(context.Background(), items, weekStart)
	require.NoError(t, err)

	assert.Contains(t, chat.lastUser, "on start")
	assert.Contains(t, chat.lastUser, "inside")
	assert.NotContains(t, chat.lastUser, "on next monday")
	assert.NotContains(t, chat.lastUser, "before")
}

func TestGenerateWeeklySummaryNothingInWeek(t *testing.T) {
	restore := timeutil.SetNow(func() time.Time { return weekStart.AddDate(0, 0, 14) })
	defer restore()

	chat := &fakeChat{reply: validReply()}
	s := NewSummarizer(chat, nil)

	draft, err := s.GenerateWeeklySummary(context.Background(),
		[]domain.ContentItem{itemAt("elsewhere", weekStart.AddDate(0, 0, 10))}, weekStart)

	require.NoError(t, err)
	assert.Nil(t, draft)
	assert.Zero(t, chat.calls, "model must not be called with an empty week")
}

func TestGenerateWeeklySummaryMalformedJSON(t *testing.T) {
	restore := timeutil.SetNow(func() time.Time { return weekStart.AddDate(0, 0, 14) })
	defer restore()

	chat := &fakeChat{reply: "Sorry, I cannot produce JSON today."}
	s := NewSummarizer(chat, nil)

	_, err := s.GenerateWeeklySummary(context.Background(),
		[]domain.ContentItem{itemAt("in week", weekStart.Add(time.Hour))}, weekStart)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed JSON")
}

func TestGenerateWeeklySummaryMissingFields(t *testing.T) {
	restore := timeutil.SetNow(func() time.Time { return weekStart.AddDate(0, 0, 14) })
	defer restore()

	chat := &fakeChat{reply: `{"title":"","summary":"has summary"}`}
	s := NewSummarizer(chat, nil)

	_, err := s.GenerateWeeklySummary(context.Background(),
		[]domain.ContentItem{itemAt("in week", weekStart.Add(time.Hour))}, weekStart)
	require.Error(t, err)
}

func TestGenerateWeeklySummaryChatError(t *testing.T) {
	restore := timeutil.SetNow(func() time.Time { return weekStart.AddDate(0, 0, 14) })
	defer restore()

	chat := &fakeChat{err: errors.New("api down")}
	s := NewSummarizer(chat, nil)

	_, err := s.GenerateWeeklySummary(context.Background(),
		[]domain.ContentItem{itemAt("in week", weekStart.Add(time.Hour))}, weekStart)
	require.Error(t, err)
}

func TestGenerateWeeklySummaryFencedReply(t *testing.T) {
	restore := timeutil.SetNow(func() time.Time { return weekStart.AddDate(0, 0, 14) })
	defer restore()

	chat := &fakeChat{reply: "```json\n" + validReply() + "\n```"}
	s := NewSummarizer(chat, nil)

	draft, err := s.GenerateWeeklySummary(context.Background(),
		[]domain.ContentItem{itemAt("in week", weekStart.Add(time.Hour))}, weekStart)
	require.NoError(t, err)
	require.NotNil(t, draft)
	assert.Equal(t, "Faster Blocks This Week", draft.Title)
}

func TestRenderOmitsEmptySections(t *testing.T) {
	html, err := renderArticle(weeklySummary{
		Title:   "Quiet Week",
		Summary: "Not much happened.",
	})
	require.NoError(t, err)
	assert.Contains(t, html, "Not much happened.")
	assert.NotContains(t, html, "Meeting Summaries")
	assert.NotContains(t, html, "Technical Updates")
}

func TestSanitizeStripsScripts(t *testing.T) {
	out := Sanitize(`<div class="ok"><script>alert(1)</script><p onclick="x()">text</p></div>`)
	assert.NotContains(t, out, "script")
	assert.NotContains(t, out, "onclick")
	assert.Contains(t, out, "text")
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stripCodeFence(tt.in))
	}
}
