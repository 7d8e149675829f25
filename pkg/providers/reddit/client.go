// Package reddit is a minimal Reddit API client used by the sentiment agent.
// It authenticates with the client-credentials (application-only) grant and
// searches finance subreddits for symbol discussion.
package reddit

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/finsight-ai/finsight/pkg/providers"
)

const (
	defaultAPIBase   = "https://oauth.reddit.com"
	defaultTokenURL  = "https://www.reddit.com/api/v1/access_token"
	defaultUserAgent = "finsight/1.0 (research agent)"
)

// DefaultSubreddits are searched when the caller does not name one.
var DefaultSubreddits = []string{"stocks", "investing", "wallstreetbets"}

// Client is an application-only Reddit client. The bearer token is fetched
// lazily and cached until shortly before expiry.
type Client struct {
	transport    *providers.Transport
	clientID     string
	clientSecret string
	baseURL      string
	tokenURL     string
	httpClient   *http.Client

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

// NewClient creates a Reddit client with application-only credentials.
func NewClient(transport *providers.Transport, clientID, clientSecret string) *Client {
	return &Client{
		transport:    transport,
		clientID:     clientID,
		clientSecret: clientSecret,
		baseURL:      defaultAPIBase,
		tokenURL:     defaultTokenURL,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
	}
}

// SetBaseURL overrides both the API and token hosts, for tests.
func (c *Client) SetBaseURL(base string) {
	c.baseURL = base
	c.tokenURL = base + "/api/v1/access_token"
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.expiresAt.Add(-time.Minute)) {
		return c.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	basic := base64.StdEncoding.EncodeToString([]byte(c.clientID + ":" + c.clientSecret))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("reddit token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: reddit token returned HTTP %d", providers.ErrUnauthorized, resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode reddit token: %w", err)
	}

	c.accessToken = payload.AccessToken
	c.expiresAt = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	return c.accessToken, nil
}

// Post is one search hit, flattened from Reddit's listing envelope.
type Post struct {
	Title       string  `json:"title"`
	Subreddit   string  `json:"subreddit"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	SelfText    string  `json:"selftext"`
	Permalink   string  `json:"permalink"`
	CreatedUTC  float64 `json:"created_utc"`
}

// Search finds recent posts mentioning the query in one subreddit.
func (c *Client) Search(ctx context.Context, subreddit, query string, limit int) ([]Post, error) {
	tok, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("restrict_sr", "1")
	q.Set("sort", "relevance")
	q.Set("t", "week")
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	path := "/r/" + url.PathEscape(subreddit) + "/search"
	body, err := c.transport.Do(ctx, &providers.Request{
		Method:   http.MethodGet,
		URL:      c.baseURL + path,
		Query:    q,
		Endpoint: path,
		Headers: map[string]string{
			"Authorization": "Bearer " + tok,
			"User-Agent":    defaultUserAgent,
		},
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Data struct {
			Children []struct {
				Data Post `json:"data"`
			} `json:"children"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode reddit search: %w", err)
	}

	posts := make([]Post, 0, len(payload.Data.Children))
	for _, child := range payload.Data.Children {
		posts = append(posts, child.Data)
	}
	return posts, nil
}

// SearchAll searches the default finance subreddits and merges results,
// highest score first.
func (c *Client) SearchAll(ctx context.Context, query string, perSub int) ([]Post, error) {
	var all []Post
	var firstErr error
	for _, sub := range DefaultSubreddits {
		posts, err := c.Search(ctx, sub, query, perSub)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		all = append(all, posts...)
	}
	if len(all) == 0 && firstErr != nil {
		return nil, firstErr
	}
	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && all[j].Score > all[j-1].Score; j-- {
			all[j], all[j-1] = all[j-1], all[j]
		}
	}
	return all, nil
}
