package ads

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"commercepulse/internal/models"
	"commercepulse/internal/timeutil"

	"golang.org/x/time/rate"
)

// Error is a classified ads API failure; Code is one of the models.ErrCode*
// values.
type Error struct {
	Code    string
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("ads api: %s (http %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("ads api: %s: %s", e.Code, e.Message)
}

// RunCode reports the sync_runs error code for this failure.
func (e *Error) RunCode() string { return e.Code }

// Backoff parameters for 429/5xx responses. After maxAttempts the failure
// surfaces as rate_limited / source_unavailable.
const (
	backoffBase   = 1 * time.Second
	backoffFactor = 2.0
	backoffCap    = 60 * time.Second
	backoffJitter = 250 * time.Millisecond
	maxAttempts   = 5
)

// Client speaks the ads graph insights API for one ad account.
type Client struct {
	baseURL   string // e.g. https://graph.facebook.com/v21.0
	adAccount string // numeric ad-account id (without the act_ prefix)
	token     string
	http      *http.Client

	// The insights endpoint has no cost telemetry, so outbound calls are
	// paced client-side and 429s handled with pure exponential backoff.
	limiter *rate.Limiter
	backoff time.Duration
}

const defaultBaseURL = "https://graph.facebook.com/v21.0"

func NewClient(adAccount, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:   defaultBaseURL,
		adAccount: adAccount,
		token:     token,
		http:      httpClient,
		limiter:   rate.NewLimiter(rate.Limit(2), 4),
		backoff:   backoffBase,
	}
}

// SetBaseURL overrides the API host (tests).
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

// insightRow is the per-ad insights shape for one day.
type insightRow struct {
	AdID        string `json:"ad_id"`
	Spend       string `json:"spend"`
	Impressions string `json:"impressions"`
	Clicks      string `json:"clicks"`
	Actions     []struct {
		ActionType string `json:"action_type"`
		Value      string `json:"value"`
	} `json:"actions"`
	ActionValues []struct {
		ActionType string `json:"action_type"`
		Value      string `json:"value"`
	} `json:"action_values"`
	AccountCurrency string `json:"account_currency"`
	DateStart       string `json:"date_start"`
}

type insightsPage struct {
	Data   []json.RawMessage `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// DayResult is one day's ad-level insights plus the retry count spent
// fetching them.
type DayResult struct {
	Insights []models.AdInsight
	APICalls int
	Retries  int
}

// FetchDay fetches ad-level insights for a single day, following paging.next
// until exhaustion. Only ACTIVE and PAUSED ads are requested.
func (c *Client) FetchDay(ctx context.Context, day string) (*DayResult, error) {
	q := url.Values{}
	q.Set("level", "ad")
	q.Set("fields", "ad_id,spend,impressions,clicks,actions,action_values,account_currency,date_start")
	q.Set("time_range", fmt.Sprintf(`{"since":"%s","until":"%s"}`, day, day))
	q.Set("filtering", `[{"field":"ad.effective_status","operator":"IN","value":["ACTIVE","PAUSED"]}]`)
	q.Set("limit", "500")
	q.Set("access_token", c.token)

	next := fmt.Sprintf("%s/act_%s/insights?%s", c.baseURL, c.adAccount, q.Encode())

	result := &DayResult{}
	for next != "" {
		page, retries, err := c.getPage(ctx, next)
		result.APICalls++
		result.Retries += retries
		if err != nil {
			return nil, err
		}

		for _, raw := range page.Data {
			var row insightRow
			if err := json.Unmarshal(raw, &row); err != nil {
				return nil, &Error{Code: models.ErrCodeSchema, Message: "insight decode: " + err.Error()}
			}
			if row.AdID == "" {
				return nil, &Error{Code: models.ErrCodeSchema, Message: "insight row missing ad_id"}
			}
			date := row.DateStart
			if date == "" {
				date = day
			}
			result.Insights = append(result.Insights, models.AdInsight{
				AdID:          row.AdID,
				Date:          date,
				Spend:         parseFloat(row.Spend),
				Impressions:   parseInt(row.Impressions),
				Clicks:        parseInt(row.Clicks),
				Purchases:     actionCount(row.Actions, "purchase"),
				PurchaseValue: actionValue(row.ActionValues, "purchase"),
				Currency:      row.AccountCurrency,
				Raw:           raw,
			})
		}

		if page.Paging.Next == next {
			log.Printf("[ads] act_%s: paging.next did not advance, stopping pagination", c.adAccount)
			break
		}
		next = page.Paging.Next
	}
	return result, nil
}

// getPage performs one GET with exponential backoff on 429 and 5xx. Returns
// how many retries were spent so handlers can report them in run stats.
func (c *Client) getPage(ctx context.Context, pageURL string) (*insightsPage, int, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := timeutil.Backoff(attempt-1, c.backoff, backoffFactor, backoffCap, backoffJitter)
			if err := timeutil.Sleep(ctx, delay); err != nil {
				return nil, attempt, lastErr
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, attempt, err
		}

		page, retryable, err := c.doGet(ctx, pageURL)
		if err == nil {
			return page, attempt, nil
		}
		if !retryable {
			return nil, attempt, err
		}
		lastErr = err
	}
	return nil, maxAttempts - 1, lastErr
}

func (c *Client) doGet(ctx context.Context, pageURL string) (page *insightsPage, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, false, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, &Error{Code: models.ErrCodeUnavailable, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, true, &Error{Code: models.ErrCodeUnavailable, Message: "read body: " + err.Error()}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, false, &Error{Code: models.ErrCodeAuth, Status: resp.StatusCode, Message: string(raw)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, true, &Error{Code: models.ErrCodeRateLimited, Status: resp.StatusCode, Message: "http 429"}
	case resp.StatusCode >= 500:
		return nil, true, &Error{Code: models.ErrCodeUnavailable, Status: resp.StatusCode, Message: resp.Status}
	}

	var parsed insightsPage
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, false, &Error{Code: models.ErrCodeSchema, Message: "response decode: " + err.Error()}
	}

	if parsed.Error != nil {
		switch parsed.Error.Code {
		case 4, 17, 32, 613: // documented throttling codes
			return nil, true, &Error{Code: models.ErrCodeRateLimited, Message: parsed.Error.Message}
		case 190:
			return nil, false, &Error{Code: models.ErrCodeAuth, Message: parsed.Error.Message}
		}
		return nil, false, &Error{Code: models.ErrCodeWorker, Message: parsed.Error.Message}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, false, &Error{Code: models.ErrCodeWorker, Status: resp.StatusCode, Message: resp.Status}
	}
	return &parsed, false, nil
}

// Aggregate sums ad-level insights into one per-day fact. Currency comes
// from the first row that carries one.
func Aggregate(day string, insights []models.AdInsight) models.AdDailyFact {
	fact := models.AdDailyFact{Date: day}
	for _, in := range insights {
		if in.Date != day {
			continue
		}
		fact.Spend += in.Spend
		fact.Impressions += in.Impressions
		fact.Clicks += in.Clicks
		fact.Purchases += in.Purchases
		fact.PurchaseValue += in.PurchaseValue
		if fact.Currency == "" {
			fact.Currency = in.Currency
		}
	}
	return fact
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func parseInt(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

func actionCount(actions []struct {
	ActionType string `json:"action_type"`
	Value      string `json:"value"`
}, actionType string) int64 {
	for _, a := range actions {
		if a.ActionType == actionType {
			return parseInt(a.Value)
		}
	}
	return 0
}

func actionValue(values []struct {
	ActionType string `json:"action_type"`
	Value      string `json:"value"`
}, actionType string) float64 {
	for _, a := range values {
		if a.ActionType == actionType {
			return parseFloat(a.Value)
		}
	}
	return 0
}
