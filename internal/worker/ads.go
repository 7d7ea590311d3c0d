package worker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"commercepulse/internal/ads"
	"commercepulse/internal/models"
	"commercepulse/internal/repository"

	"github.com/google/uuid"
)

// AdsStore is what the ads handlers need from the repository.
type AdsStore interface {
	GetIntegration(ctx context.Context, id uuid.UUID) (*models.Integration, error)
	GetIntegrationSecret(ctx context.Context, integrationID uuid.UUID, key string) (string, error)
	PersistAdInsights(ctx context.Context, integ *models.Integration, insights []models.AdInsight, facts []models.AdDailyFact, cursorFn repository.CursorUpdate) ([]string, error)
}

// AdsSource is the fetch surface of the ads client.
type AdsSource interface {
	FetchDay(ctx context.Context, day string) (*ads.DayResult, error)
}

// AdsHandler runs ads_fresh and ads_window_fill. Both re-fetch the trailing
// attribution window day by day; fresh ends at yesterday, window_fill at
// today. No cursor is kept: the window is always re-fetched because the
// source restates attributed conversions days after the fact.
type AdsHandler struct {
	store      AdsStore
	newClient  func(adAccount, token string) AdsSource
	windowDays int
	now        func() time.Time
}

func NewAdsHandler(store AdsStore, windowDays int, httpClient *http.Client) *AdsHandler {
	return &AdsHandler{
		store: store,
		newClient: func(adAccount, token string) AdsSource {
			return ads.NewClient(adAccount, token, httpClient)
		},
		windowDays: windowDays,
		now:        time.Now,
	}
}

func (h *AdsHandler) Handle(ctx context.Context, run *models.SyncRun) (models.RunStats, error) {
	integ, err := h.store.GetIntegration(ctx, run.IntegrationID)
	if err != nil {
		return models.RunStats{}, fmt.Errorf("load integration: %w", err)
	}
	token, err := h.store.GetIntegrationSecret(ctx, integ.ID, repository.SecretAdsAccessToken)
	if err != nil {
		return models.RunStats{}, fmt.Errorf("load token: %w", err)
	}
	client := h.newClient(integ.ExternalRef, token)

	end := h.now().UTC()
	if run.JobType == models.JobAdsFresh {
		end = end.AddDate(0, 0, -1)
	} else if run.JobType != models.JobAdsWindowFill {
		return models.RunStats{}, fmt.Errorf("ads handler cannot run %q", run.JobType)
	}

	days := windowDays(end, h.windowDays)

	var (
		insights []models.AdInsight
		facts    []models.AdDailyFact
		apiCalls int
		retries  int
	)
	for _, day := range days {
		res, err := client.FetchDay(ctx, day)
		if err != nil {
			return models.RunStats{}, err
		}
		apiCalls += res.APICalls
		retries += res.Retries
		if len(res.Insights) == 0 {
			continue
		}
		insights = append(insights, res.Insights...)
		facts = append(facts, ads.Aggregate(day, res.Insights))
	}

	dates, err := h.store.PersistAdInsights(ctx, integ, insights, facts, nil)
	if err != nil {
		return models.RunStats{}, &runError{code: models.ErrCodeDBWrite, err: fmt.Errorf("persist ad insights: %w", err)}
	}

	return models.RunStats{
		Fetched:       len(insights),
		Persisted:     len(insights),
		DatesAffected: dates,
		APICalls:      apiCalls,
		Retries:       retries,
		WindowStart:   days[0],
		WindowEnd:     days[len(days)-1],
	}, nil
}

// windowDays returns n consecutive YYYY-MM-DD dates ending at end, oldest
// first.
func windowDays(end time.Time, n int) []string {
	if n < 1 {
		n = 1
	}
	days := make([]string, 0, n)
	for i := n - 1; i >= 0; i-- {
		days = append(days, end.AddDate(0, 0, -i).Format("2006-01-02"))
	}
	return days
}
