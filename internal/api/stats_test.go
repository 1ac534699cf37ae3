package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/seantiz/mapbridge/internal/model"
)

func TestGetStatsAfterLoad(t *testing.T) {
	env := newTestEnv(t)
	env.flush(t)

	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/stats")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var stats statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if stats.Total != 1 {
		t.Errorf("total = %d, want 1", stats.Total)
	}
	if stats.ByKind[model.KindLoad] != 1 {
		t.Errorf("by_kind[load] = %d, want 1", stats.ByKind[model.KindLoad])
	}
}

func TestGetStatsPopulated(t *testing.T) {
	env := newTestEnv(t)
	env.flush(t)
	ctx := context.Background()

	for i, outcome := range []string{model.OutcomeSucceeded, model.OutcomeFailed, model.OutcomeFailed} {
		d := int64(0)
		if err := env.store.InsertJob(ctx, &model.JobRecord{
			ID:         model.NewID(),
			Kind:       model.KindFetch,
			Outcome:    outcome,
			DurationMS: &d,
			CreatedAt:  time.Now().UTC().Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("InsertJob: %v", err)
		}
	}

	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/stats")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var stats statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if stats.Total != 4 {
		t.Errorf("total = %d, want 4", stats.Total)
	}
	if stats.ByKind[model.KindFetch] != 3 {
		t.Errorf("by_kind[fetch] = %d, want 3", stats.ByKind[model.KindFetch])
	}
	if stats.ByOutcome[model.OutcomeFailed] != 2 {
		t.Errorf("by_outcome[failed] = %d, want 2", stats.ByOutcome[model.OutcomeFailed])
	}
	if stats.ByOutcome[model.OutcomeSucceeded] != 2 {
		t.Errorf("by_outcome[succeeded] = %d, want 2", stats.ByOutcome[model.OutcomeSucceeded])
	}
}
