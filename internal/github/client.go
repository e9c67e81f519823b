// Package github fetches time-windowed activity (issues and commits) from the
// watched repository through the GitHub REST API.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ethdevwatch/ethdevwatch/internal/domain"
	"github.com/ethdevwatch/ethdevwatch/internal/timeutil"
)

const (
	defaultBaseURL = "https://api.github.com"
	defaultRepo    = "ethereum/pm"
	defaultTimeout = 30 * time.Second

	// maxAttempts bounds retries for non-rate-limit failures. Delays grow
	// linearly; rate limits instead wait for the upstream reset and do not
	// consume attempts.
	maxAttempts   = 3
	retryStep     = 2 * time.Second
	maxPagesFetch = 10
	perPage       = 100
)

type Option func(*Client)

// Client lists issues and commits inside a UTC window. It degrades to an
// empty result on persistent upstream failure; the caller treats empty as
// "no content", which is recoverable.
type Client struct {
	baseURL string
	repo    string
	token   string
	http    *http.Client
	log     *slog.Logger

	// sleep is swapped in tests to avoid real rate-limit waits.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		repo:    defaultRepo,
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
		log:     slog.Default().With("component", "github"),
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func WithBaseURL(u string) Option { return func(c *Client) { c.baseURL = u } }

func WithRepo(repo string) Option { return func(c *Client) { c.repo = repo } }

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.log = l } }

// WithSleep overrides how the client waits out rate-limit resets and retry
// delays.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

// Fetch returns the repository's issues and commits whose creation time falls
// inside [start, end] (inclusive). Zero bounds default to the most recently
// completed Monday-Sunday week. Persistent failure returns an empty slice, not
// an error.
func (c *Client) Fetch(ctx context.Context, start, end time.Time) []domain.ContentItem {
	if start.IsZero() || end.IsZero() {
		start = timeutil.LastCompletedWeek()
		end = start.AddDate(0, 0, 7).Add(-time.Second)
	}
	start = timeutil.ToUTC(start)
	end = timeutil.ToUTC(end)

	c.log.Info("fetching repository activity", "repo", c.repo, "start", start, "end", end)

	var items []domain.ContentItem

	issues, err := c.fetchIssues(ctx, start, end)
	if err != nil {
		c.log.Error("failed to fetch issues, continuing without them", "error", err)
	}
	items = append(items, issues...)

	commits, err := c.fetchCommits(ctx, start, end)
	if err != nil {
		c.log.Error("failed to fetch commits, continuing without them", "error", err)
	}
	items = append(items, commits...)

	c.log.Info("fetched repository activity", "items", len(items))
	return items
}

type issuePayload struct {
	Title     string    `json:"title"`
	HTMLURL   string    `json:"html_url"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

func (c *Client) fetchIssues(ctx context.Context, start, end time.Time) ([]domain.ContentItem, error) {
	q := url.Values{}
	q.Set("state", "all")
	q.Set("since", start.Format(time.RFC3339))
	q.Set("per_page", strconv.Itoa(perPage))

	var items []domain.ContentItem
	for page := 1; page <= maxPagesFetch; page++ {
		q.Set("page", strconv.Itoa(page))
		var issues []issuePayload
		if err := c.get(ctx, fmt.Sprintf("/repos/%s/issues?%s", c.repo, q.Encode()), &issues); err != nil {
			return items, err
		}
		for _, is := range issues {
			created := timeutil.ToUTC(is.CreatedAt)
			if created.Before(start) || created.After(end) {
				continue
			}
			items = append(items, domain.ContentItem{
				Type:      domain.ItemIssue,
				Title:     is.Title,
				URL:       is.HTMLURL,
				Body:      is.Body,
				Origin:    c.repo,
				CreatedAt: created,
			})
		}
		if len(issues) < perPage {
			break
		}
	}
	return items, nil
}

type commitPayload struct {
	HTMLURL string `json:"html_url"`
	Commit  struct {
		Message string `json:"message"`
		Author  struct {
			Date time.Time `json:"date"`
		} `json:"author"`
	} `json:"commit"`
}

func (c *Client) fetchCommits(ctx context.Context, start, end time.Time) ([]domain.ContentItem, error) {
	q := url.Values{}
	q.Set("since", start.Format(time.RFC3339))
	q.Set("until", end.Format(time.RFC3339))
	q.Set("per_page", strconv.Itoa(perPage))

	var items []domain.ContentItem
	for page := 1; page <= maxPagesFetch; page++ {
		q.Set("page", strconv.Itoa(page))
		var commits []commitPayload
		if err := c.get(ctx, fmt.Sprintf("/repos/%s/commits?%s", c.repo, q.Encode()), &commits); err != nil {
			return items, err
		}
		for _, cm := range commits {
			created := timeutil.ToUTC(cm.Commit.Author.Date)
			if created.Before(start) || created.After(end) {
				continue
			}
			items = append(items, domain.ContentItem{
				Type:      domain.ItemCommit,
				Title:     cm.Commit.Message,
				URL:       cm.HTMLURL,
				Body:      cm.Commit.Message,
				Origin:    c.repo,
				CreatedAt: created,
			})
		}
		if len(commits) < perPage {
			break
		}
	}
	return items, nil
}

// get performs one API call. A rate-limit response blocks until the declared
// reset and the same request is re-issued without losing the pass; other
// failures retry with linearly growing delay up to maxAttempts.
func (c *Client) get(ctx context.Context, path string, out any) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		wait, err := c.getOnce(ctx, path, out)
		if err == nil {
			return nil
		}
		if wait > 0 {
			c.log.Warn("rate limited, waiting for reset", "wait", wait, "path", path)
			if sleepErr := c.sleep(ctx, wait); sleepErr != nil {
				return sleepErr
			}
			// Resuming the same pass: the pause does not count as an attempt.
			attempt--
			continue
		}
		lastErr = err
		if attempt < maxAttempts-1 {
			delay := time.Duration(attempt+1) * retryStep
			c.log.Warn("request failed, retrying", "attempt", attempt+1, "delay", delay, "error", err)
			if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
				return sleepErr
			}
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", maxAttempts, lastErr)
}

// getOnce returns (waitForReset, err). waitForReset > 0 signals a rate limit
// with the time left until the upstream window resets.
func (c *Client) getOnce(ctx context.Context, path string, out any) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		if wait := rateLimitWait(resp); wait > 0 {
			return wait, fmt.Errorf("rate limited: %s", resp.Status)
		}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("unexpected status %s: %s", resp.Status, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}
	return 0, nil
}

// rateLimitWait extracts how long to wait from Retry-After or the
// X-RateLimit-Reset epoch. Zero means the response was not a rate limit.
func rateLimitWait(resp *http.Response) time.Duration {
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if resp.Header.Get("X-RateLimit-Remaining") == "0" {
		if reset := resp.Header.Get("X-RateLimit-Reset"); reset != "" {
			if epoch, err := strconv.ParseInt(reset, 10, 64); err == nil {
				if wait := time.Until(time.Unix(epoch, 0)); wait > 0 {
					return wait
				}
				return time.Second
			}
		}
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
