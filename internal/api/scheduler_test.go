package api

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"commercepulse/internal/models"
)

func TestCronCommerceEnqueues(t *testing.T) {
	store := &fakeStore{inserted: 3}
	s := NewServer(store, testConfig())

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest("POST", "/cron/commerce", nil))
	if rec.Code != 202 {
		t.Fatalf("expected 202, got %d", rec.Code)
	}

	var body struct {
		Inserted        int64  `json:"inserted"`
		JobType         string `json:"jobType"`
		IntervalMinutes int    `json:"intervalMinutes"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Inserted != 3 {
		t.Errorf("inserted: %d", body.Inserted)
	}
	if body.JobType != string(models.JobCommerceFresh) {
		t.Errorf("jobType: %q", body.JobType)
	}
	if body.IntervalMinutes != 60 {
		t.Errorf("intervalMinutes: %d", body.IntervalMinutes)
	}
	if len(store.enqueued) != 1 || store.enqueued[0] != models.JobCommerceFresh {
		t.Errorf("enqueued: %v", store.enqueued)
	}
}

func TestCronAdsDisabled(t *testing.T) {
	store := &fakeStore{inserted: 5}
	cfg := testConfig()
	cfg.AdsJobsEnabled = false
	s := NewServer(store, cfg)

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest("POST", "/cron/ads", nil))
	if rec.Code != 202 {
		t.Fatalf("expected 202, got %d", rec.Code)
	}

	var body struct {
		Inserted int64  `json:"inserted"`
		Message  string `json:"message"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Inserted != 0 || body.Message != "disabled" {
		t.Errorf("disabled flag response: %+v", body)
	}
	if len(store.enqueued) != 0 {
		t.Error("disabled flag must not insert")
	}
}

func TestCronSecretRequired(t *testing.T) {
	store := &fakeStore{inserted: 1}
	cfg := testConfig()
	cfg.CronSecret = "s3cret"
	s := NewServer(store, cfg)

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest("GET", "/cron/commerce", nil))
	if rec.Code != 401 {
		t.Errorf("expected 401 without secret, got %d", rec.Code)
	}

	req := httptest.NewRequest("GET", "/cron/commerce", nil)
	req.Header.Set("X-Cron-Secret", "wrong")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != 401 {
		t.Errorf("expected 401 with wrong secret, got %d", rec.Code)
	}

	req = httptest.NewRequest("GET", "/cron/commerce", nil)
	req.Header.Set("X-Cron-Secret", "s3cret")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != 202 {
		t.Errorf("expected 202 with header secret, got %d", rec.Code)
	}

	req = httptest.NewRequest("GET", "/cron/ads", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != 202 {
		t.Errorf("expected 202 with bearer secret, got %d", rec.Code)
	}
}
