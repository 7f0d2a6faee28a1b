// Package directory lists the instances to poll from the instances.social API.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"blockgraph/pkg/types"

	"go.uber.org/zap"
)

const listPath = "/api/1.0/instances/list"

// ErrUnauthorized is logged when the directory rejects the API key. The
// roster comes back empty and the run carries on.
var ErrUnauthorized = errors.New("directory credentials invalid")

// Client talks to the instance directory. It makes exactly one request per
// FetchRoster call and never retries.
type Client struct {
	baseURL    string
	count      int
	httpClient *http.Client
	logger     *zap.Logger
}

type instanceRecord struct {
	Name  string      `json:"name"`
	Users interface{} `json:"users"` // string in the live API, number in older dumps
}

type listResponse struct {
	Instances []instanceRecord `json:"instances"`
}

// NewClient creates a directory client. A nil httpClient uses
// http.DefaultClient, so the transport default timeout applies.
func NewClient(baseURL string, count int, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		count:      count,
		httpClient: httpClient,
		logger:     logger,
	}
}

// ListURL returns the roster endpoint including the page-size parameter.
func (c *Client) ListURL() string {
	q := url.Values{}
	q.Set("count", strconv.Itoa(c.count))
	return c.baseURL + listPath + "?" + q.Encode()
}

// FetchRoster returns the instances to poll. Bad credentials, unexpected
// statuses and an unparseable envelope all yield an empty roster and a nil
// error; only transport failures are returned.
func (c *Client) FetchRoster(ctx context.Context, apiKey string) ([]types.Instance, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ListURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build directory request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var list listResponse
		if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
			c.logger.Error("Failed to parse instance list", zap.Error(err))
			return []types.Instance{}, nil
		}
		return c.toRoster(list.Instances), nil
	case http.StatusUnauthorized:
		c.logger.Warn("Need new API key", zap.Error(ErrUnauthorized))
		return []types.Instance{}, nil
	default:
		c.logger.Error("Unexpected directory response",
			zap.Int("status", resp.StatusCode),
			zap.String("url", req.URL.Redacted()))
		return []types.Instance{}, nil
	}
}

// toRoster drops nameless records and keeps the first record for a
// repeated name, so every instance is polled once.
func (c *Client) toRoster(records []instanceRecord) []types.Instance {
	roster := make([]types.Instance, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		name := strings.TrimSpace(rec.Name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			c.logger.Debug("Dropping duplicate roster entry", zap.String("instance", name))
			continue
		}
		seen[name] = struct{}{}
		roster = append(roster, types.Instance{Name: name, Users: ParseUsers(rec.Users)})
	}
	return roster
}

// ParseUsers converts the directory's user count to an int. Anything that
// is not a whole number counts as 0.
func ParseUsers(v interface{}) int {
	switch u := v.(type) {
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(u))
		if err != nil {
			return 0
		}
		return n
	case float64:
		if u != math.Trunc(u) || u > math.MaxInt32 || u < math.MinInt32 {
			return 0
		}
		return int(u)
	case json.Number:
		n, err := strconv.Atoi(u.String())
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}
