package worker

import (
	"context"
	"testing"
	"time"

	"commercepulse/internal/ads"
	"commercepulse/internal/models"
	"commercepulse/internal/repository"

	"github.com/google/uuid"
)

type fakeAdsStore struct {
	integ *models.Integration

	persistedInsights []models.AdInsight
	persistedFacts    []models.AdDailyFact
}

func (f *fakeAdsStore) GetIntegration(ctx context.Context, id uuid.UUID) (*models.Integration, error) {
	return f.integ, nil
}

func (f *fakeAdsStore) GetIntegrationSecret(ctx context.Context, integrationID uuid.UUID, key string) (string, error) {
	return "ads-token", nil
}

func (f *fakeAdsStore) PersistAdInsights(ctx context.Context, integ *models.Integration, insights []models.AdInsight, facts []models.AdDailyFact, cursorFn repository.CursorUpdate) ([]string, error) {
	f.persistedInsights = insights
	f.persistedFacts = facts
	dates := make([]string, 0, len(facts))
	for _, fa := range facts {
		dates = append(dates, fa.Date)
	}
	return dates, nil
}

type fakeAdsSource struct {
	days    []string
	perDay  map[string][]models.AdInsight
	retries map[string]int
}

func (f *fakeAdsSource) FetchDay(ctx context.Context, day string) (*ads.DayResult, error) {
	f.days = append(f.days, day)
	return &ads.DayResult{
		Insights: f.perDay[day],
		APICalls: 1,
		Retries:  f.retries[day],
	}, nil
}

func newAdsTestHandler(store *fakeAdsStore, source *fakeAdsSource, windowDays int) *AdsHandler {
	return &AdsHandler{
		store:      store,
		newClient:  func(string, string) AdsSource { return source },
		windowDays: windowDays,
		now:        func() time.Time { return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC) },
	}
}

func adsIntegration() *models.Integration {
	return &models.Integration{
		ID:          uuid.New(),
		AccountID:   uuid.New(),
		Type:        models.IntegrationAds,
		Status:      models.IntegrationConnected,
		ExternalRef: "12345",
		Currency:    "USD",
	}
}

func TestAdsFreshWindowEndsYesterday(t *testing.T) {
	integ := adsIntegration()
	store := &fakeAdsStore{integ: integ}
	source := &fakeAdsSource{perDay: map[string][]models.AdInsight{}}

	stats, err := newAdsTestHandler(store, source, 3).Handle(context.Background(),
		&models.SyncRun{ID: uuid.New(), IntegrationID: integ.ID, JobType: models.JobAdsFresh})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	want := []string{"2026-08-21", "2026-08-22", "2026-08-23"}
	if len(source.days) != len(want) {
		t.Fatalf("expected %d day calls, got %v", len(want), source.days)
	}
	for i, d := range want {
		if source.days[i] != d {
			t.Errorf("day %d: expected %s, got %s", i, d, source.days[i])
		}
	}
	if stats.WindowStart != "2026-08-21" || stats.WindowEnd != "2026-08-23" {
		t.Errorf("window bounds: %q..%q", stats.WindowStart, stats.WindowEnd)
	}
	if stats.APICalls != 3 {
		t.Errorf("api_calls: %d", stats.APICalls)
	}
}

func TestAdsWindowFillIncludesToday(t *testing.T) {
	integ := adsIntegration()
	store := &fakeAdsStore{integ: integ}
	source := &fakeAdsSource{perDay: map[string][]models.AdInsight{}}

	_, err := newAdsTestHandler(store, source, 2).Handle(context.Background(),
		&models.SyncRun{ID: uuid.New(), IntegrationID: integ.ID, JobType: models.JobAdsWindowFill})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	want := []string{"2026-08-23", "2026-08-24"}
	for i, d := range want {
		if source.days[i] != d {
			t.Errorf("day %d: expected %s, got %s", i, d, source.days[i])
		}
	}
}

func TestAdsHandlerAggregatesPerDay(t *testing.T) {
	integ := adsIntegration()
	store := &fakeAdsStore{integ: integ}
	source := &fakeAdsSource{
		perDay: map[string][]models.AdInsight{
			"2026-08-23": {
				{AdID: "a", Date: "2026-08-23", Spend: 10, Purchases: 1, PurchaseValue: 50, Currency: "USD"},
				{AdID: "b", Date: "2026-08-23", Spend: 5, Purchases: 2, PurchaseValue: 70, Currency: "USD"},
			},
		},
		retries: map[string]int{"2026-08-23": 1},
	}

	stats, err := newAdsTestHandler(store, source, 3).Handle(context.Background(),
		&models.SyncRun{ID: uuid.New(), IntegrationID: integ.ID, JobType: models.JobAdsFresh})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(store.persistedFacts) != 1 {
		t.Fatalf("expected 1 fact (empty days skipped), got %d", len(store.persistedFacts))
	}
	fact := store.persistedFacts[0]
	if fact.Date != "2026-08-23" || fact.Spend != 15 || fact.Purchases != 3 || fact.PurchaseValue != 120 {
		t.Errorf("bad fact: %+v", fact)
	}
	if stats.Fetched != 2 || stats.Persisted != 2 {
		t.Errorf("counts: %+v", stats)
	}
	if stats.Retries != 1 {
		t.Errorf("retries should surface in stats, got %d", stats.Retries)
	}
	if len(stats.DatesAffected) != 1 || stats.DatesAffected[0] != "2026-08-23" {
		t.Errorf("dates affected: %v", stats.DatesAffected)
	}
}

func TestWindowDays(t *testing.T) {
	end := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	days := windowDays(end, 1)
	if len(days) != 1 || days[0] != "2026-08-24" {
		t.Errorf("single day window: %v", days)
	}
	days = windowDays(end, 0)
	if len(days) != 1 {
		t.Errorf("floor at one day: %v", days)
	}
}
