// Package costs tracks API spend per task, per session, and lifetime.
//
// Workers record usage concurrently; totals live in atomic counters and
// per-label task records behind a mutex. Dollar amounts are accumulated
// as integer micro-USD so concurrent adds never lose fractional cents.
package costs

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// TaskCost accumulates usage for one label (model + experiment +
// configuration).
type TaskCost struct {
	Label            string  `json:"label"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
	ElapsedSeconds   float64 `json:"elapsed_seconds"`
	Calls            int64   `json:"n_calls"`
}

// Session is a snapshot of one benchmark run's spend.
type Session struct {
	ID                    string     `json:"session_id"`
	StartedAt             string     `json:"started_at"`
	Tasks                 []TaskCost `json:"tasks"`
	TotalCalls            int64      `json:"total_calls"`
	TotalPromptTokens     int64      `json:"total_prompt_tokens"`
	TotalCompletionTokens int64      `json:"total_completion_tokens"`
	TotalCostUSD          float64    `json:"total_cost_usd"`
}

// Tracker aggregates usage from concurrent workers.
type Tracker struct {
	sessionID string
	startedAt time.Time

	calls            atomic.Int64
	promptTokens     atomic.Int64
	completionTokens atomic.Int64
	microUSD         atomic.Int64

	mu    sync.Mutex
	tasks map[string]*TaskCost
}

// NewTracker starts a fresh session with a unique ID.
func NewTracker() *Tracker {
	return &Tracker{
		sessionID: uuid.NewString(),
		startedAt: time.Now().UTC(),
		tasks:     make(map[string]*TaskCost),
	}
}

// SessionID returns the tracker's session identifier.
func (t *Tracker) SessionID() string { return t.sessionID }

// Record adds one call's usage under a label.
func (t *Tracker) Record(label string, promptTokens, completionTokens int, costUSD, elapsedSeconds float64) {
	t.calls.Add(1)
	t.promptTokens.Add(int64(promptTokens))
	t.completionTokens.Add(int64(completionTokens))
	t.microUSD.Add(int64(math.Round(costUSD * 1e6)))

	t.mu.Lock()
	defer t.mu.Unlock()
	tc, ok := t.tasks[label]
	if !ok {
		tc = &TaskCost{Label: label}
		t.tasks[label] = tc
	}
	tc.PromptTokens += int64(promptTokens)
	tc.CompletionTokens += int64(completionTokens)
	tc.CostUSD += costUSD
	tc.ElapsedSeconds += elapsedSeconds
	tc.Calls++
}

// TotalCostUSD returns the session spend so far.
func (t *Tracker) TotalCostUSD() float64 {
	return float64(t.microUSD.Load()) / 1e6
}

// TotalCalls returns the number of recorded calls.
func (t *Tracker) TotalCalls() int64 { return t.calls.Load() }

// Snapshot returns the session state with tasks in label order.
func (t *Tracker) Snapshot() Session {
	t.mu.Lock()
	tasks := make([]TaskCost, 0, len(t.tasks))
	for _, tc := range t.tasks {
		cp := *tc
		cp.CostUSD = round6(cp.CostUSD)
		cp.ElapsedSeconds = math.Round(cp.ElapsedSeconds*100) / 100
		tasks = append(tasks, cp)
	}
	t.mu.Unlock()
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Label < tasks[j].Label })

	return Session{
		ID:                    t.sessionID,
		StartedAt:             t.startedAt.Format(time.RFC3339),
		Tasks:                 tasks,
		TotalCalls:            t.calls.Load(),
		TotalPromptTokens:     t.promptTokens.Load(),
		TotalCompletionTokens: t.completionTokens.Load(),
		TotalCostUSD:          round6(t.TotalCostUSD()),
	}
}

func round6(v float64) float64 { return math.Round(v*1e6) / 1e6 }

// costLog is the on-disk lifetime spend record.
type costLog struct {
	LifetimeCostUSD float64   `json:"lifetime_cost_usd"`
	Sessions        []Session `json:"sessions"`
}

// LoadLifetimeCost reads the accumulated spend from a cost log file.
// Missing or corrupt logs read as zero.
func LoadLifetimeCost(path string) float64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	var log costLog
	if err := json.Unmarshal(data, &log); err != nil {
		return 0
	}
	return log.LifetimeCostUSD
}

// AppendSession appends the tracker's session to the lifetime cost log
// and returns the new lifetime total.
func (t *Tracker) AppendSession(path string) (float64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("costs: mkdir: %w", err)
	}

	var log costLog
	if data, err := os.ReadFile(path); err == nil {
		// A corrupt log starts over rather than blocking the run.
		_ = json.Unmarshal(data, &log)
	}

	session := t.Snapshot()
	log.LifetimeCostUSD = round6(log.LifetimeCostUSD + session.TotalCostUSD)
	log.Sessions = append(log.Sessions, session)

	data, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("costs: marshal: %w", err)
	}

	// Temp file + rename keeps the log intact if the write is cut short.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-costlog-*")
	if err != nil {
		return 0, fmt.Errorf("costs: temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("costs: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("costs: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("costs: rename: %w", err)
	}
	return log.LifetimeCostUSD, nil
}
