package store

import (
	"context"
	"testing"
	"time"

	"remedy-agent/src/contracts"
)

var testNow = time.Date(2025, 11, 1, 12, 0, 0, 0, time.UTC)

func failurePattern(id, key string, lastSeen time.Time) *contracts.PatternRecord {
	return &contracts.PatternRecord{
		ID:        id,
		Kind:      contracts.KindFailure,
		Pattern:   key,
		Frequency: 1,
		LastSeen:  lastSeen,
		Solution:  &contracts.Solution{Type: contracts.SolutionRetry, MaxRetries: 3},
		Failure:   &contracts.FailureDetail{Severity: contracts.SeverityHigh, Confidence: 0.9},
	}
}

func TestMemoryStore_SaveAndLoadPatterns(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	ctx := context.Background()

	if err := store.SavePattern(ctx, "app", failurePattern("p1", "ERROR: boom", testNow)); err != nil {
		t.Fatalf("SavePattern failed: %v", err)
	}
	if err := store.SavePattern(ctx, "app", failurePattern("p2", "ERROR: bang", testNow)); err != nil {
		t.Fatalf("SavePattern failed: %v", err)
	}

	// Saving the same ID again replaces the record.
	updated := failurePattern("p1", "ERROR: boom", testNow)
	updated.Frequency = 4
	if err := store.SavePattern(ctx, "app", updated); err != nil {
		t.Fatalf("SavePattern failed: %v", err)
	}

	loaded, err := store.LoadPatterns(ctx)
	if err != nil {
		t.Fatalf("LoadPatterns failed: %v", err)
	}
	if len(loaded["app"]) != 2 {
		t.Fatalf("Expected 2 patterns, got %d", len(loaded["app"]))
	}
	if loaded["app"][0].ID != "p1" || loaded["app"][0].Frequency != 4 {
		t.Errorf("Expected p1 with frequency 4, got %s with %d", loaded["app"][0].ID, loaded["app"][0].Frequency)
	}
	if loaded["app"][1].Solution == nil || loaded["app"][1].Solution.MaxRetries != 3 {
		t.Errorf("Expected solution to round-trip, got %+v", loaded["app"][1].Solution)
	}
}

func TestMemoryStore_SavedPatternIsCopied(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec := failurePattern("p1", "ERROR: boom", testNow)
	store.SavePattern(ctx, "app", rec)
	rec.Frequency = 99

	loaded, _ := store.LoadPatterns(ctx)
	if loaded["app"][0].Frequency != 1 {
		t.Errorf("Expected stored frequency 1, got %d", loaded["app"][0].Frequency)
	}
}

func TestMemoryStore_ActionsAndAnalyses(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := contracts.BuildKey{Job: "app", Number: 42}

	store.SaveAction(ctx, key, contracts.ActionRecord{ID: "a1", Type: contracts.ActionTestFailure})
	store.SaveAction(ctx, key, contracts.ActionRecord{ID: "a2", Type: contracts.ActionSlowBuild})

	actions := store.Actions(key)
	if len(actions) != 2 || actions[0].ID != "a1" || actions[1].ID != "a2" {
		t.Errorf("Expected actions [a1 a2], got %+v", actions)
	}

	result := &contracts.AnalysisResult{
		BuildInfo: contracts.BuildInfo{JobName: "app", BuildNumber: 42, Result: contracts.ResultFailure},
		Severity:  contracts.SeverityLow,
		Timestamp: testNow,
	}
	store.SaveAnalysis(ctx, result)
	result.Severity = contracts.SeverityHigh
	store.SaveAnalysis(ctx, result)

	got, ok := store.Analysis(key)
	if !ok {
		t.Fatal("Expected stored analysis")
	}
	if got.Severity != contracts.SeverityHigh {
		t.Errorf("Expected replaced analysis with severity HIGH, got %s", got.Severity)
	}
}

func TestMemoryStore_CleanupOlderThan(t *testing.T) {
	store := NewMemoryStore()
	store.now = func() time.Time { return testNow }
	ctx := context.Background()

	ttl := 30 * 24 * time.Hour
	store.SavePattern(ctx, "app", failurePattern("old", "ERROR: old", testNow.Add(-ttl-time.Second)))
	store.SavePattern(ctx, "app", failurePattern("edge", "ERROR: edge", testNow.Add(-ttl)))
	store.SaveAnalysis(ctx, &contracts.AnalysisResult{
		BuildInfo: contracts.BuildInfo{JobName: "app", BuildNumber: 1},
		Timestamp: testNow.Add(-8 * 24 * time.Hour),
	})
	store.SaveAnalysis(ctx, &contracts.AnalysisResult{
		BuildInfo: contracts.BuildInfo{JobName: "app", BuildNumber: 2},
		Timestamp: testNow.Add(-time.Hour),
	})

	if err := store.CleanupOlderThan(ctx, ttl, 7*24*time.Hour); err != nil {
		t.Fatalf("CleanupOlderThan failed: %v", err)
	}

	loaded, _ := store.LoadPatterns(ctx)
	if len(loaded["app"]) != 1 || loaded["app"][0].ID != "edge" {
		t.Errorf("Expected only the pattern exactly at the TTL to remain, got %+v", loaded["app"])
	}
	if _, ok := store.Analysis(contracts.BuildKey{Job: "app", Number: 1}); ok {
		t.Error("Expected old analysis to be deleted")
	}
	if _, ok := store.Analysis(contracts.BuildKey{Job: "app", Number: 2}); !ok {
		t.Error("Expected recent analysis to be kept")
	}

	// A deactivated pattern comes back when it is saved again.
	store.SavePattern(ctx, "app", failurePattern("old", "ERROR: old", testNow))
	loaded, _ = store.LoadPatterns(ctx)
	if len(loaded["app"]) != 2 {
		t.Errorf("Expected reactivated pattern, got %d patterns", len(loaded["app"]))
	}
}
