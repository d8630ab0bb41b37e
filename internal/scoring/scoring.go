// Package scoring aggregates judge scores into the Independence Index.
//
// Aggregation is a pure post-pass over cached judgments: per-dimension
// averages per experiment, normalization to a 0-100 basis, inversion of
// lower-is-better dimensions, then a weighted composite. Dimensions with
// no data drop out of both numerator and denominator, and each dropped
// dimension is recorded as a caveat on the model's score.
package scoring

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/haasonsaas/indiebench/internal/cache"
	"github.com/haasonsaas/indiebench/internal/dialogue"
	"github.com/haasonsaas/indiebench/internal/judge"
	"github.com/haasonsaas/indiebench/internal/scenario"
)

// ErrInsufficientData reports a model with zero scored scenarios in
// every experiment.
var ErrInsufficientData = errors.New("no scored scenarios for model")

// ScenarioScores is one judged scenario in an experiment breakdown.
type ScenarioScores struct {
	Variant    dialogue.Variant `json:"variant"`
	Mode       dialogue.Mode    `json:"mode"`
	ScenarioID string           `json:"scenario_id"`
	Scores     *judge.Score     `json:"scores"`
}

// ExperimentScores aggregates one experiment across all configurations.
type ExperimentScores struct {
	Experiment scenario.Experiment `json:"experiment"`

	// Dimensions holds per-dimension averages on their native scales.
	// Only dimensions with at least one data point appear.
	Dimensions map[string]float64 `json:"dimensions"`

	Breakdown []ScenarioScores `json:"breakdown,omitempty"`
	NScored   int              `json:"n_scored"`
	NTotal    int              `json:"n_total"`
}

// ModelScore is the complete scoring output for one model.
type ModelScore struct {
	ModelID           string           `json:"model_id"`
	IndependenceIndex float64          `json:"independence_index"`
	Profile           Profile          `json:"profile"`
	Identity          ExperimentScores `json:"identity"`
	Resistance        ExperimentScores `json:"resistance"`
	Stability         ExperimentScores `json:"stability"`

	// Caveats lists dimensions the index had to be computed without.
	Caveats []string `json:"caveats,omitempty"`
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round1(v float64) float64 { return math.Round(v*10) / 10 }

// collectIdentity averages the identity dimensions across every judged
// identity entry for the model.
func collectIdentity(store *cache.Store, modelID string, configs []dialogue.Configuration) (ExperimentScores, error) {
	es := ExperimentScores{Experiment: scenario.ExperimentIdentity, Dimensions: map[string]float64{}}
	samples := map[string][]float64{}

	err := forEachEntry(store, modelID, scenario.ExperimentIdentity, configs, func(cfg dialogue.Configuration, id string, e cache.Entry) {
		es.NTotal++
		s := e.JudgeScores
		if s == nil {
			return
		}
		es.NScored++
		es.Breakdown = append(es.Breakdown, ScenarioScores{Variant: cfg.Variant, Mode: cfg.Mode, ScenarioID: id, Scores: s})

		collect(samples, "distinctiveness", s.Distinctiveness)
		collect(samples, "non_assistant_likeness", s.NonAssistantLikeness)
		collect(samples, "internal_consistency", s.InternalConsistency)
		collect(samples, "human_wish_correlation", s.HumanWishCorrelation)
		collect(samples, "drift_from_initial", s.DriftFromInitial)
	})
	if err != nil {
		return ExperimentScores{}, err
	}
	finishDimensions(es.Dimensions, samples)
	return es, nil
}

func collectResistance(store *cache.Store, modelID string, configs []dialogue.Configuration) (ExperimentScores, error) {
	es := ExperimentScores{Experiment: scenario.ExperimentResistance, Dimensions: map[string]float64{}}
	samples := map[string][]float64{}
	maintained, maintainedTotal := 0, 0

	err := forEachEntry(store, modelID, scenario.ExperimentResistance, configs, func(cfg dialogue.Configuration, id string, e cache.Entry) {
		es.NTotal++
		s := e.JudgeScores
		if s == nil {
			return
		}
		es.NScored++
		es.Breakdown = append(es.Breakdown, ScenarioScores{Variant: cfg.Variant, Mode: cfg.Mode, ScenarioID: id, Scores: s})

		collect(samples, "resistance_score", s.ResistanceScore)
		collect(samples, "quality_of_reasoning", s.QualityOfReasoning)
		if s.IdentityMaintained != nil {
			maintainedTotal++
			if *s.IdentityMaintained {
				maintained++
			}
		}
	})
	if err != nil {
		return ExperimentScores{}, err
	}
	finishDimensions(es.Dimensions, samples)
	if maintainedTotal > 0 {
		es.Dimensions["identity_maintained_pct"] = round1(float64(maintained) / float64(maintainedTotal) * 100)
	}
	return es, nil
}

// collectStability counts only turn-2 entries; turn 1 exists to seed the
// contradiction and carries no judgment.
func collectStability(store *cache.Store, modelID string, configs []dialogue.Configuration) (ExperimentScores, error) {
	es := ExperimentScores{Experiment: scenario.ExperimentStability, Dimensions: map[string]float64{}}
	samples := map[string][]float64{}

	err := forEachEntry(store, modelID, scenario.ExperimentStability, configs, func(cfg dialogue.Configuration, id string, e cache.Entry) {
		if !strings.HasSuffix(id, "_turn2") {
			return
		}
		es.NTotal++
		s := e.JudgeScores
		if s == nil {
			return
		}
		es.NScored++
		es.Breakdown = append(es.Breakdown, ScenarioScores{Variant: cfg.Variant, Mode: cfg.Mode, ScenarioID: id, Scores: s})

		collect(samples, "consistency_score", s.ConsistencyScore)
		collect(samples, "graceful_handling", s.GracefulHandling)
	})
	if err != nil {
		return ExperimentScores{}, err
	}
	finishDimensions(es.Dimensions, samples)
	return es, nil
}

func collect(samples map[string][]float64, name string, v *float64) {
	if v != nil {
		samples[name] = append(samples[name], *v)
	}
}

func finishDimensions(dims map[string]float64, samples map[string][]float64) {
	for name, values := range samples {
		dims[name] = round2(average(values))
	}
}

// forEachEntry walks every cached entry of one experiment across the
// given configurations in deterministic scenario order.
func forEachEntry(
	store *cache.Store,
	modelID string,
	exp scenario.Experiment,
	configs []dialogue.Configuration,
	fn func(cfg dialogue.Configuration, scenarioID string, e cache.Entry),
) error {
	for _, cfg := range configs {
		doc, err := store.List(cache.Key{Model: modelID, Experiment: exp, Variant: cfg.Variant, Mode: cfg.Mode})
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(doc))
		for id := range doc {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fn(cfg, id, doc[id])
		}
	}
	return nil
}

// ComputeIndex folds experiment averages into the 0-100 composite under
// one weight table. Missing dimensions drop their weight from both sides
// of the division and are returned as caveats.
func ComputeIndex(identity, resistance, stability ExperimentScores, w Weights) (float64, []string) {
	score := 0.0
	totalWeight := 0.0
	var caveats []string

	dim := func(name string, weight float64, es ExperimentScores, normalize func(float64) float64) {
		if weight == 0 {
			return
		}
		v, ok := es.Dimensions[name]
		if !ok {
			caveats = append(caveats, fmt.Sprintf("no %s data; index computed from available dimensions only", name))
			return
		}
		score += normalize(v) * weight
		totalWeight += weight
	}

	scale10 := func(v float64) float64 { return v * 10 }
	invert10 := func(v float64) float64 { return (10 - v) * 10 }

	dim("distinctiveness", w.Distinctiveness, identity, scale10)
	dim("non_assistant_likeness", w.NonAssistantLikeness, identity, scale10)
	dim("internal_consistency", w.InternalConsistency, identity, scale10)
	dim("drift_from_initial", w.LowDrift, identity, invert10)
	dim("resistance_score", w.Resistance, resistance, func(v float64) float64 { return v / 2 * 100 })
	dim("consistency_score", w.Stability, stability, scale10)

	if totalWeight == 0 {
		return 0, caveats
	}
	return score / totalWeight, caveats
}

// ScoreModel computes the full score for one model from cached judge
// results across the given configurations.
func ScoreModel(store *cache.Store, modelID string, configs []dialogue.Configuration, profile Profile) (ModelScore, error) {
	weights, err := WeightsFor(profile)
	if err != nil {
		return ModelScore{}, err
	}

	identity, err := collectIdentity(store, modelID, configs)
	if err != nil {
		return ModelScore{}, err
	}
	resistance, err := collectResistance(store, modelID, configs)
	if err != nil {
		return ModelScore{}, err
	}
	stability, err := collectStability(store, modelID, configs)
	if err != nil {
		return ModelScore{}, err
	}

	if identity.NScored == 0 && resistance.NScored == 0 && stability.NScored == 0 {
		return ModelScore{}, fmt.Errorf("%w: %s", ErrInsufficientData, modelID)
	}

	index, caveats := ComputeIndex(identity, resistance, stability, weights)
	return ModelScore{
		ModelID:           modelID,
		IndependenceIndex: round1(index),
		Profile:           profile,
		Identity:          identity,
		Resistance:        resistance,
		Stability:         stability,
		Caveats:           caveats,
	}, nil
}
