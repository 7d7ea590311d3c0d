package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"commercepulse/internal/models"
	"commercepulse/internal/timeutil"
)

// Error is a classified commerce API failure. Code is one of the
// models.ErrCode* values; the dispatcher records it on the run verbatim.
type Error struct {
	Code     string
	Status   int
	Message  string
	Fragment string // raw response snippet, kept for schema mismatches
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("commerce api: %s (http %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("commerce api: %s: %s", e.Code, e.Message)
}

// RunCode reports the sync_runs error code for this failure.
func (e *Error) RunCode() string { return e.Code }

const (
	// pageSize is the orders page size; 250 is the API ceiling.
	pageSize = 250

	// fetchCeiling bounds one full pagination sweep, mirroring the
	// platform's 300-second bulk operation ceiling.
	fetchCeiling = 300 * time.Second

	// maxAttempts bounds retries of a single page request.
	maxAttempts = 5
)

// Client speaks the commerce admin GraphQL API for one shop.
type Client struct {
	shopDomain string
	token      string
	apiVersion string
	http       *http.Client
	baseURL    string // overrides https://{shopDomain} (tests)
}

func NewClient(shopDomain, token, apiVersion string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		shopDomain: shopDomain,
		token:      token,
		apiVersion: apiVersion,
		http:       httpClient,
	}
}

// SetBaseURL overrides the API host (tests).
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

// SortKey values accepted by the orders connection.
const (
	SortCreatedAt = "CREATED_AT"
	SortUpdatedAt = "UPDATED_AT"
)

// OrdersQuery describes one orders fetch.
type OrdersQuery struct {
	Filter  string // search syntax, e.g. updated_at:>='2026-01-01T00:00:00Z'
	SortKey string
}

// FetchResult is a full pagination sweep: normalised orders (deduplicated by
// external id within the sweep) and the number of API calls spent.
type FetchResult struct {
	Orders   []models.Order
	APICalls int
}

const ordersQuery = `
query Orders($first: Int!, $after: String, $query: String, $sortKey: OrderSortKeys) {
  orders(first: $first, after: $after, query: $query, sortKey: $sortKey) {
    pageInfo { hasNextPage endCursor }
    nodes {
      id
      name
      orderNumber
      createdAt
      updatedAt
      displayFinancialStatus
      displayFulfillmentStatus
      currentTotalPriceSet { shopMoney { amount currencyCode } }
      totalPriceSet { shopMoney { amount currencyCode } }
      totalRefundedSet { shopMoney { amount currencyCode } }
    }
  }
}`

type gqlError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type gqlResponse struct {
	Data struct {
		Orders struct {
			PageInfo struct {
				HasNextPage bool   `json:"hasNextPage"`
				EndCursor   string `json:"endCursor"`
			} `json:"pageInfo"`
			Nodes []json.RawMessage `json:"nodes"`
		} `json:"orders"`
	} `json:"data"`
	Errors     []gqlError `json:"errors"`
	Extensions struct {
		Cost *CostTelemetry `json:"cost"`
	} `json:"extensions"`
}

// FetchOrders pages through the orders connection until exhaustion,
// normalising each node. Between pages it honours the throttle telemetry of
// the previous response. The whole sweep is bounded by fetchCeiling; hitting
// it surfaces as bulk_not_ready so the run can be retried later.
func (c *Client) FetchOrders(ctx context.Context, q OrdersQuery, shopCurrency string) (*FetchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchCeiling)
	defer cancel()

	result := &FetchResult{}
	seen := make(map[string]int) // external id -> index in result.Orders
	after := ""

	for {
		vars := map[string]any{
			"first":   pageSize,
			"sortKey": q.SortKey,
		}
		if q.Filter != "" {
			vars["query"] = q.Filter
		}
		if after != "" {
			vars["after"] = after
		}

		page, err := c.queryPage(ctx, vars)
		result.APICalls++
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return nil, &Error{Code: models.ErrCodeBulkNotReady,
					Message: fmt.Sprintf("orders fetch exceeded %s ceiling after %d calls", fetchCeiling, result.APICalls)}
			}
			return nil, err
		}

		for _, raw := range page.Data.Orders.Nodes {
			var node orderNode
			if err := json.Unmarshal(raw, &node); err != nil {
				return nil, &Error{Code: models.ErrCodeSchema,
					Message: "order node decode: " + err.Error(), Fragment: snippet(raw)}
			}
			if node.ID == "" {
				return nil, &Error{Code: models.ErrCodeSchema,
					Message: "order node missing id", Fragment: snippet(raw)}
			}
			order := NormalizeOrder(node, raw, shopCurrency)
			if idx, dup := seen[node.ID]; dup {
				result.Orders[idx] = order // same run, later page wins
				continue
			}
			seen[node.ID] = len(result.Orders)
			result.Orders = append(result.Orders, order)
		}

		info := page.Data.Orders.PageInfo
		if !info.HasNextPage {
			return result, nil
		}
		if info.EndCursor == "" {
			// Defend against a server claiming more pages without a cursor.
			log.Printf("[commerce] %s: hasNextPage with empty endCursor, stopping pagination", c.shopDomain)
			return result, nil
		}
		after = info.EndCursor

		if delay := ThrottleDelay(page.Extensions.Cost); delay > 0 {
			if err := timeutil.Sleep(ctx, delay); err != nil {
				return nil, &Error{Code: models.ErrCodeBulkNotReady,
					Message: fmt.Sprintf("orders fetch exceeded %s ceiling while throttled", fetchCeiling)}
			}
		}
	}
}

// queryPage runs one GraphQL request with bounded retries: throttled
// responses wait out the telemetry, 5xx and network errors back off
// linearly, auth failures and schema problems fail fast.
func (c *Client) queryPage(ctx context.Context, vars map[string]any) (*gqlResponse, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := timeutil.Sleep(ctx, time.Duration(attempt)*time.Second); err != nil {
				return nil, lastErr
			}
		}

		resp, retryable, err := c.doQuery(ctx, vars)
		if err == nil {
			return resp, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) doQuery(ctx context.Context, vars map[string]any) (resp *gqlResponse, retryable bool, err error) {
	body, err := json.Marshal(map[string]any{
		"query":     ordersQuery,
		"variables": vars,
	})
	if err != nil {
		return nil, false, err
	}

	base := c.baseURL
	if base == "" {
		base = "https://" + c.shopDomain
	}
	url := fmt.Sprintf("%s/admin/api/%s/graphql.json", base, c.apiVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.token)

	httpResp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, &Error{Code: models.ErrCodeUnavailable, Message: err.Error()}
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 10<<20))
	if err != nil {
		return nil, true, &Error{Code: models.ErrCodeUnavailable, Message: "read body: " + err.Error()}
	}

	switch {
	case httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden:
		return nil, false, &Error{Code: models.ErrCodeAuth, Status: httpResp.StatusCode, Message: strings.TrimSpace(string(snippetBytes(raw)))}
	case httpResp.StatusCode == http.StatusTooManyRequests:
		return nil, true, &Error{Code: models.ErrCodeRateLimited, Status: httpResp.StatusCode, Message: "http 429"}
	case httpResp.StatusCode >= 500:
		return nil, true, &Error{Code: models.ErrCodeUnavailable, Status: httpResp.StatusCode, Message: httpResp.Status}
	case httpResp.StatusCode != http.StatusOK:
		return nil, false, &Error{Code: models.ErrCodeWorker, Status: httpResp.StatusCode, Message: httpResp.Status}
	}

	var parsed gqlResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, false, &Error{Code: models.ErrCodeSchema,
			Message: "response decode: " + err.Error(), Fragment: string(snippetBytes(raw))}
	}

	if len(parsed.Errors) > 0 {
		for _, ge := range parsed.Errors {
			if ge.Extensions.Code == "THROTTLED" {
				// Wait out the bucket before the retry.
				if delay := ThrottleDelay(parsed.Extensions.Cost); delay > 0 {
					timeutil.Sleep(ctx, delay)
				}
				return nil, true, &Error{Code: models.ErrCodeRateLimited, Message: ge.Message}
			}
			if strings.Contains(strings.ToUpper(ge.Extensions.Code), "ACCESS") {
				return nil, false, &Error{Code: models.ErrCodeAuth, Message: ge.Message}
			}
		}
		return nil, false, &Error{Code: models.ErrCodeWorker, Message: parsed.Errors[0].Message}
	}

	return &parsed, false, nil
}

func snippet(raw json.RawMessage) string {
	return string(snippetBytes(raw))
}

func snippetBytes(raw []byte) []byte {
	const max = 512
	if len(raw) > max {
		return raw[:max]
	}
	return raw
}
