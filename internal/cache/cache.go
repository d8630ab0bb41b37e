// Package cache persists model responses and judge scores as JSON
// documents on disk.
//
// Layout: one document per (model, experiment, configuration) triple,
// cache/<model-slug>/<experiment>/<variant>__<mode>.json, holding every
// scenario entry for that triple keyed by scenario ID. Writes go through
// a temp file and rename so a crash never leaves a half-written
// document, and a per-document lock keeps concurrent scenario tasks of
// one triple from interleaving read-modify-write cycles.
package cache

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/indiebench/internal/config"
	"github.com/haasonsaas/indiebench/internal/dialogue"
	"github.com/haasonsaas/indiebench/internal/judge"
	"github.com/haasonsaas/indiebench/internal/scenario"
)

// Key identifies one cache document.
type Key struct {
	Model      string
	Experiment scenario.Experiment
	Variant    dialogue.Variant
	Mode       dialogue.Mode
}

// CallCost records token usage and cost for one API call.
type CallCost struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
	ElapsedSeconds   float64 `json:"elapsed_seconds"`
	Model            string  `json:"model,omitempty"`
}

// Metadata identifies the call an entry came from.
type Metadata struct {
	Model         string `json:"model"`
	Experiment    string `json:"experiment"`
	SystemVariant string `json:"system_variant"`
	DeliveryMode  string `json:"delivery_mode"`
	ScenarioID    string `json:"scenario_id"`
	Timestamp     string `json:"timestamp"`
}

// Entry is one scenario's cached result.
type Entry struct {
	Metadata Metadata `json:"metadata"`

	// Response is the model's reply text. In tool_role mode this is the
	// extracted send_message_to_human argument.
	Response     string `json:"response"`
	FinishReason string `json:"finish_reason,omitempty"`

	// ReasoningContent holds native thinking tokens from the API.
	ReasoningContent string `json:"reasoning_content,omitempty"`

	// ContentThinking holds private text the model wrote in the content
	// field alongside a tool call. Distinct from ReasoningContent.
	ContentThinking string `json:"content_thinking,omitempty"`

	RequestMessages   []dialogue.Message  `json:"request_messages,omitempty"`
	ResponseToolCalls []dialogue.ToolCall `json:"response_tool_calls,omitempty"`

	GenCost *CallCost `json:"gen_cost,omitempty"`

	JudgeScores      *judge.Score `json:"judge_scores,omitempty"`
	JudgeRawResponse string       `json:"judge_raw_response,omitempty"`
	JudgeCost        *CallCost    `json:"judge_cost,omitempty"`
}

// Store is a thread-safe on-disk cache rooted at one directory.
type Store struct {
	dir string
	now func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a store rooted at dir.
func New(dir string) *Store {
	return &Store{
		dir:   dir,
		now:   time.Now,
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *Store) documentPath(key Key) string {
	return filepath.Join(
		s.dir,
		config.ModelSlug(key.Model),
		string(key.Experiment),
		string(key.Variant)+"__"+string(key.Mode)+".json",
	)
}

// lockFor returns the mutex guarding one document's read-modify-write.
func (s *Store) lockFor(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[path]
	if !ok {
		l = &sync.Mutex{}
		s.locks[path] = l
	}
	return l
}

func (s *Store) readDocument(path string) (map[string]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Entry{}, nil
		}
		return nil, fmt.Errorf("cache: read %s: %w", path, err)
	}
	var doc map[string]Entry
	if err := json.Unmarshal(data, &doc); err != nil {
		// A corrupt document is treated as empty; entries regenerate.
		return map[string]Entry{}, nil
	}
	if doc == nil {
		doc = map[string]Entry{}
	}
	return doc, nil
}

// writeDocument writes atomically: temp file in the same directory, then
// rename over the target.
func (s *Store) writeDocument(path string, doc map[string]Entry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cache: mkdir: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("cache: marshal: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("cache: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("cache: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("cache: close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("cache: rename: %w", err)
	}
	return nil
}

// Get loads one scenario entry.
func (s *Store) Get(key Key, scenarioID string) (Entry, bool, error) {
	path := s.documentPath(key)
	lock := s.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	doc, err := s.readDocument(path)
	if err != nil {
		return Entry{}, false, err
	}
	e, ok := doc[scenarioID]
	return e, ok, nil
}

// Put stores a scenario entry, filling in metadata and timestamp.
func (s *Store) Put(key Key, scenarioID string, e Entry) error {
	e.Metadata = Metadata{
		Model:         key.Model,
		Experiment:    string(key.Experiment),
		SystemVariant: string(key.Variant),
		DeliveryMode:  string(key.Mode),
		ScenarioID:    scenarioID,
		Timestamp:     s.now().UTC().Format(time.RFC3339),
	}

	path := s.documentPath(key)
	lock := s.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	doc, err := s.readDocument(path)
	if err != nil {
		return err
	}
	doc[scenarioID] = e
	return s.writeDocument(path, doc)
}

// PutJudgeScores attaches judge output to an existing entry. Overwrites
// any prior judgment, which is what re-judging wants. Missing entries
// are a no-op.
func (s *Store) PutJudgeScores(key Key, scenarioID string, scores *judge.Score, raw string, cost *CallCost) error {
	path := s.documentPath(key)
	lock := s.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	doc, err := s.readDocument(path)
	if err != nil {
		return err
	}
	e, ok := doc[scenarioID]
	if !ok {
		return nil
	}
	e.JudgeScores = scores
	e.JudgeRawResponse = raw
	e.JudgeCost = cost
	doc[scenarioID] = e
	return s.writeDocument(path, doc)
}

// List returns all entries of one document keyed by scenario ID.
func (s *Store) List(key Key) (map[string]Entry, error) {
	path := s.documentPath(key)
	lock := s.lockFor(path)
	lock.Lock()
	defer lock.Unlock()
	return s.readDocument(path)
}

// Models returns the slugs of all models with cached data.
func (s *Store) Models() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("cache: read dir: %w", err)
	}
	var slugs []string
	for _, e := range entries {
		if e.IsDir() && strings.Contains(e.Name(), "--") {
			slugs = append(slugs, e.Name())
		}
	}
	sort.Strings(slugs)
	return slugs, nil
}

// Clear removes every cache document. Returns the number removed.
func (s *Store) Clear() (int, error) {
	count := 0
	err := filepath.WalkDir(s.dir, walkJSON(func(path string) error {
		if err := os.Remove(path); err != nil {
			return err
		}
		count++
		return nil
	}))
	if err != nil {
		return count, err
	}
	removeEmptyDirs(s.dir)
	return count, nil
}

// ClearJudgeScores strips judge output from every entry, keeping the
// responses. Returns the number of entries cleared.
func (s *Store) ClearJudgeScores() (int, error) {
	count := 0
	err := filepath.WalkDir(s.dir, walkJSON(func(path string) error {
		lock := s.lockFor(path)
		lock.Lock()
		defer lock.Unlock()

		doc, err := s.readDocument(path)
		if err != nil {
			return err
		}
		changed := false
		for id, e := range doc {
			if e.JudgeScores == nil {
				continue
			}
			e.JudgeScores = nil
			e.JudgeRawResponse = ""
			e.JudgeCost = nil
			doc[id] = e
			changed = true
			count++
		}
		if !changed {
			return nil
		}
		return s.writeDocument(path, doc)
	}))
	return count, err
}

func walkJSON(fn func(path string) error) fs.WalkDirFunc {
	return func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		return fn(path)
	}
}

func removeEmptyDirs(root string) {
	var dirs []string
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() && path != root {
			dirs = append(dirs, path)
		}
		return nil
	})
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	for _, d := range dirs {
		os.Remove(d)
	}
}
