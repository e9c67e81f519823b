// Package forum fetches and summarizes weekly community discussions from the
// configured Discourse forums.
package forum

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/ethdevwatch/ethdevwatch/internal/domain"
	"github.com/ethdevwatch/ethdevwatch/internal/retry"
	"github.com/ethdevwatch/ethdevwatch/internal/timeutil"
)

const (
	defaultTimeout = 30 * time.Second
	// minCallSpacing is the floor between consecutive outbound requests,
	// independent of retry backoff.
	minCallSpacing = 500 * time.Millisecond
	// maxContentLen truncates oversized first posts.
	maxContentLen = 5000
	userAgent     = "Mozilla/5.0 (compatible; EthDevWatch/1.0; +https://ethdevwatch.example.org)"
)

type Option func(*Client)

// Client lists recent topics from each configured forum, filters them to the
// requested week and pulls each topic's first post. A failing topic is skipped;
// a failing forum index only loses that forum's contribution.
type Client struct {
	forums  []Endpoint
	http    *http.Client
	policy  retry.Policy
	log     *slog.Logger
	spacing time.Duration

	mu       sync.Mutex
	lastCall time.Time

	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(forums []Endpoint, opts ...Option) *Client {
	c := &Client{
		forums:  forums,
		http:    &http.Client{Timeout: defaultTimeout},
		policy:  retry.Forum(),
		log:     slog.Default().With("component", "forum"),
		spacing: minCallSpacing,
		sleep: func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.log = l } }

func WithPolicy(p retry.Policy) Option { return func(c *Client) { c.policy = p } }

func WithSpacing(d time.Duration) Option { return func(c *Client) { c.spacing = d } }

func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

type topicList struct {
	TopicList struct {
		Topics []topic `json:"topics"`
	} `json:"topic_list"`
}

type topic struct {
	ID        int64  `json:"id"`
	Slug      string `json:"slug"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
}

type topicDetail struct {
	PostStream struct {
		Posts []struct {
			Cooked string `json:"cooked"`
		} `json:"posts"`
	} `json:"post_stream"`
}

// FetchDiscussions returns the discussions created during the Monday-Sunday
// week containing weekDate, deduplicated by canonical topic URL across forums.
func (c *Client) FetchDiscussions(ctx context.Context, weekDate time.Time) []domain.Discussion {
	weekStart, _ := timeutil.WeekWindow(weekDate)
	c.log.Info("fetching forum discussions", "week_start", weekStart, "forums", len(c.forums))

	seen := make(map[string]bool)
	var discussions []domain.Discussion

	for _, f := range c.forums {
		topics, err := c.listTopics(ctx, f)
		if err != nil {
			c.log.Error("failed to list forum topics, skipping forum", "forum", f.Name, "error", err)
			continue
		}
		for _, t := range topics {
			created, err := parseTopicTime(t.CreatedAt)
			if err != nil {
				c.log.Debug("skipping topic with unparseable date", "forum", f.Name, "title", t.Title, "error", err)
				continue
			}
			if !timeutil.InWeek(created, weekStart) {
				continue
			}
			canonical := fmt.Sprintf("%s/t/%s/%d", f.BaseURL, t.Slug, t.ID)
			if seen[canonical] {
				continue
			}

			content, err := c.fetchFirstPost(ctx, f, t)
			if err != nil {
				c.log.Error("failed to fetch topic, skipping", "forum", f.Name, "url", canonical, "error", err)
				continue
			}

			seen[canonical] = true
			discussions = append(discussions, domain.Discussion{
				Title:   t.Title,
				Content: content,
				URL:     canonical,
				Date:    created,
				Source:  f.Name,
			})
		}
	}

	c.log.Info("fetched forum discussions", "count", len(discussions))
	return discussions
}

func (c *Client) listTopics(ctx context.Context, f Endpoint) ([]topic, error) {
	var list topicList
	if err := c.getJSON(ctx, f.BaseURL+f.ListPath, &list); err != nil {
		return nil, err
	}
	return list.TopicList.Topics, nil
}

func (c *Client) fetchFirstPost(ctx context.Context, f Endpoint, t topic) (string, error) {
	var detail topicDetail
	url := fmt.Sprintf("%s/t/%s/%d.json", f.BaseURL, t.Slug, t.ID)
	if err := c.getJSON(ctx, url, &detail); err != nil {
		return "", err
	}
	if len(detail.PostStream.Posts) == 0 {
		return "", fmt.Errorf("topic %d has no posts", t.ID)
	}

	text, err := stripHTML(detail.PostStream.Posts[0].Cooked)
	if err != nil {
		return "", fmt.Errorf("failed to extract post text: %w", err)
	}
	if len(text) > maxContentLen {
		text = text[:maxContentLen] + "..."
	}
	return text, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	return c.policy.Do(ctx, c.log, "forum fetch", func() error {
		if err := c.pace(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%s: %w", resp.Status, retry.ErrRateLimited)
		}
		if resp.StatusCode >= http.StatusBadRequest {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("unexpected status %s: %s", resp.Status, string(body))
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	})
}

// pace enforces the minimum spacing before every outbound call. The lock is
// held through the wait so concurrent callers queue instead of bursting.
func (c *Client) pace(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if wait := c.spacing - timeutil.Now().Sub(c.lastCall); wait > 0 {
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
	}
	c.lastCall = timeutil.Now()
	return nil
}

func parseTopicTime(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02T15:04:05.000Z", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// stripHTML reduces a Discourse "cooked" post to plain text.
func stripHTML(cooked string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(cooked))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(doc.Text()), nil
}
