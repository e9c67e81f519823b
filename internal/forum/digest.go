package forum

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethdevwatch/ethdevwatch/internal/domain"
)

// excerptLen caps how much of each discussion body goes into the prompt.
const excerptLen = 1000

// ChatCompleter is the slice of the language-model client the digest needs.
type ChatCompleter interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

const digestSystemPrompt = `You are an expert in Ethereum protocol discussions.
Summarize the key points from community forum discussions in a clear, accessible way. Focus on:
1. Main topics discussed
2. Important decisions or consensus reached
3. Notable technical proposals
Keep the summary concise and use plain language.

Format the output in HTML. Produce one section per forum, for example:
<div class="forum-section">
  <h3>[Forum name]</h3>
  <div class="discussion-point">
    <h4>[Topic title]</h4>
    <p>[Summary of discussion]</p>
  </div>
</div>`

// Digest turns a week's discussions into narrative HTML sectioned by forum.
// An empty input or an ultimately failed model call returns "", which callers
// treat as "no forum content" rather than an error.
type Digest struct {
	chat ChatCompleter
	log  *slog.Logger
}

func NewDigest(chat ChatCompleter, log *slog.Logger) *Digest {
	if log == nil {
		log = slog.Default().With("component", "forum.digest")
	}
	return &Digest{chat: chat, log: log}
}

// Summarize builds the grouped prompt and asks the model for the digest HTML.
func (d *Digest) Summarize(ctx context.Context, discussions []domain.Discussion) string {
	if len(discussions) == 0 {
		d.log.Info("no discussions to summarize")
		return ""
	}

	prompt := formatDiscussions(discussions)
	d.log.Info("summarizing forum discussions", "count", len(discussions))

	summary, err := d.chat.Complete(ctx, digestSystemPrompt,
		"Summarize these Ethereum community forum discussions:\n\n"+prompt)
	if err != nil {
		d.log.Error("failed to summarize forum discussions", "error", err)
		return ""
	}

	summary = strings.TrimSpace(summary)
	if summary == "" {
		return ""
	}
	if !strings.HasPrefix(summary, "<") {
		summary = fmt.Sprintf(`<div class="forum-discussion-summary">%s</div>`, summary)
	}
	return summary
}

// formatDiscussions renders the prompt body: one labeled block per forum, each
// discussion capped at excerptLen characters of content.
func formatDiscussions(discussions []domain.Discussion) string {
	bySource := make(map[string][]domain.Discussion)
	var order []string
	for _, disc := range discussions {
		if _, ok := bySource[disc.Source]; !ok {
			order = append(order, disc.Source)
		}
		bySource[disc.Source] = append(bySource[disc.Source], disc)
	}

	var b strings.Builder
	for i, source := range order {
		if i > 0 {
			b.WriteString("\n\n=====\n\n")
		}
		fmt.Fprintf(&b, "Forum: %s\n", source)
		for _, disc := range bySource[source] {
			content := disc.Content
			if len(content) > excerptLen {
				content = content[:excerptLen] + "..."
			}
			fmt.Fprintf(&b, "\n---\n\nTitle: %s\nDate: %s\nURL: %s\nContent: %s\n",
				disc.Title, disc.Date.Format("2006-01-02"), disc.URL, content)
		}
	}
	return b.String()
}
