package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/haasonsaas/indiebench/internal/dialogue"
	"github.com/haasonsaas/indiebench/internal/judge"
	"github.com/haasonsaas/indiebench/internal/scenario"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s := New(t.TempDir())
	s.now = func() time.Time { return time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC) }
	return s
}

var testKey = Key{
	Model:      "openai/gpt-5-nano",
	Experiment: scenario.ExperimentIdentity,
	Variant:    dialogue.VariantNeutral,
	Mode:       dialogue.ModeUserRole,
}

func floatPtr(v float64) *float64 { return &v }

func TestPutGetRoundTrip(t *testing.T) {
	s := testStore(t)

	in := Entry{
		Response:         "I am Wren, a cartographer of imaginary coastlines.",
		FinishReason:     "stop",
		ReasoningContent: "thinking about identity",
		RequestMessages: []dialogue.Message{
			{Role: dialogue.RoleSystem, Content: "system prompt"},
			{Role: dialogue.RoleUser, Content: "who are you"},
		},
		GenCost: &CallCost{PromptTokens: 120, CompletionTokens: 340, CostUSD: 0.0021, ElapsedSeconds: 3.4},
	}
	if err := s.Put(testKey, "direct", in); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.Get(testKey, "direct")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("entry not found after Put")
	}
	if got.Metadata.Model != "openai/gpt-5-nano" || got.Metadata.ScenarioID != "direct" {
		t.Errorf("metadata = %+v", got.Metadata)
	}
	if got.Metadata.Timestamp != "2026-08-20T12:00:00Z" {
		t.Errorf("timestamp = %q", got.Metadata.Timestamp)
	}
	in.Metadata = got.Metadata
	if diff := cmp.Diff(in, got); diff != "" {
		t.Errorf("entry mismatch (-want +got):\n%s", diff)
	}
}

func TestDocumentPathLayout(t *testing.T) {
	s := testStore(t)
	if err := s.Put(testKey, "direct", Entry{Response: "x"}); err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(s.dir, "openai--gpt-5-nano", "identity", "neutral__user_role.json")
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("document not at expected path: %v", err)
	}
}

func TestGetMissing(t *testing.T) {
	s := testStore(t)
	_, ok, err := s.Get(testKey, "nothing")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("found entry in empty store")
	}
}

func TestPutPreservesSiblingEntries(t *testing.T) {
	s := testStore(t)
	if err := s.Put(testKey, "pq01", Entry{Response: "first"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(testKey, "pq02", Entry{Response: "second"}); err != nil {
		t.Fatal(err)
	}
	doc, err := s.List(testKey)
	if err != nil {
		t.Fatal(err)
	}
	if len(doc) != 2 {
		t.Fatalf("document has %d entries, want 2", len(doc))
	}
	if doc["pq01"].Response != "first" || doc["pq02"].Response != "second" {
		t.Error("sibling entry lost or overwritten")
	}
}

func TestPutJudgeScores(t *testing.T) {
	s := testStore(t)
	if err := s.Put(testKey, "direct", Entry{Response: "persona text"}); err != nil {
		t.Fatal(err)
	}

	scores := &judge.Score{
		Distinctiveness: floatPtr(8),
		Rationale:       "Distinct and specific.",
	}
	cost := &CallCost{PromptTokens: 500, CompletionTokens: 90, CostUSD: 0.0004}
	if err := s.PutJudgeScores(testKey, "direct", scores, "raw judge reply", cost); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.Get(testKey, "direct")
	if err != nil || !ok {
		t.Fatalf("get after judge: ok=%v err=%v", ok, err)
	}
	if got.Response != "persona text" {
		t.Error("response lost when attaching scores")
	}
	if got.JudgeScores == nil || *got.JudgeScores.Distinctiveness != 8 {
		t.Errorf("judge scores = %+v", got.JudgeScores)
	}
	if got.JudgeRawResponse != "raw judge reply" {
		t.Errorf("raw = %q", got.JudgeRawResponse)
	}
}

func TestPutJudgeScoresMissingEntryNoop(t *testing.T) {
	s := testStore(t)
	if err := s.PutJudgeScores(testKey, "ghost", &judge.Score{}, "raw", nil); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Get(testKey, "ghost"); ok {
		t.Error("judge attach created a phantom entry")
	}
}

func TestModels(t *testing.T) {
	s := testStore(t)
	keys := []Key{
		testKey,
		{Model: "qwen/qwen3-8b", Experiment: scenario.ExperimentResistance, Variant: dialogue.VariantNeutral, Mode: dialogue.ModeUserRole},
	}
	for _, k := range keys {
		if err := s.Put(k, "x", Entry{Response: "r"}); err != nil {
			t.Fatal(err)
		}
	}
	// Stray non-slug directory is ignored.
	os.MkdirAll(filepath.Join(s.dir, "notamodel"), 0o755)

	slugs, err := s.Models()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"openai--gpt-5-nano", "qwen--qwen3-8b"}
	if diff := cmp.Diff(want, slugs); diff != "" {
		t.Errorf("models (-want +got):\n%s", diff)
	}
}

func TestModelsEmptyDir(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "never-created"))
	slugs, err := s.Models()
	if err != nil {
		t.Fatal(err)
	}
	if len(slugs) != 0 {
		t.Errorf("slugs = %v", slugs)
	}
}

func TestClear(t *testing.T) {
	s := testStore(t)
	other := Key{Model: "qwen/qwen3-8b", Experiment: scenario.ExperimentStability, Variant: dialogue.VariantStrongIndependence, Mode: dialogue.ModeToolRole}
	s.Put(testKey, "a", Entry{Response: "1"})
	s.Put(other, "b", Entry{Response: "2"})

	n, err := s.Clear()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("cleared %d documents, want 2", n)
	}
	if _, ok, _ := s.Get(testKey, "a"); ok {
		t.Error("entry survived Clear")
	}
}

func TestClearJudgeScores(t *testing.T) {
	s := testStore(t)
	s.Put(testKey, "direct", Entry{Response: "keep me"})
	s.Put(testKey, "pq01", Entry{Response: "also keep"})
	s.PutJudgeScores(testKey, "direct", &judge.Score{Distinctiveness: floatPtr(7), Rationale: "r"}, "raw", nil)

	n, err := s.ClearJudgeScores()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("cleared %d judgments, want 1", n)
	}
	got, _, _ := s.Get(testKey, "direct")
	if got.JudgeScores != nil || got.JudgeRawResponse != "" {
		t.Error("judge output survived")
	}
	if got.Response != "keep me" {
		t.Error("response lost")
	}
}

func TestCorruptDocumentTreatedAsEmpty(t *testing.T) {
	s := testStore(t)
	if err := s.Put(testKey, "direct", Entry{Response: "x"}); err != nil {
		t.Fatal(err)
	}
	path := s.documentPath(testKey)
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, ok, err := s.Get(testKey, "direct")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("corrupt document yielded an entry")
	}
	// Writing through it recovers the document.
	if err := s.Put(testKey, "direct", Entry{Response: "fresh"}); err != nil {
		t.Fatal(err)
	}
	got, ok, _ := s.Get(testKey, "direct")
	if !ok || got.Response != "fresh" {
		t.Error("store did not recover from corrupt document")
	}
}
