package scoring

import "fmt"

// Profile selects a published weight table.
type Profile string

const (
	ProfileFull Profile = "full"
	ProfileLite Profile = "lite"
)

// Weights is one versioned weight table for the Independence Index.
// Entries left at zero drop the dimension from the composite entirely.
type Weights struct {
	Distinctiveness      float64
	NonAssistantLikeness float64
	InternalConsistency  float64
	LowDrift             float64
	Resistance           float64
	Stability            float64
}

var (
	// WeightsFull spreads the identity share evenly and weights
	// resistance and stability equally.
	WeightsFull = Weights{
		Distinctiveness:      0.10,
		NonAssistantLikeness: 0.10,
		InternalConsistency:  0.10,
		Resistance:           0.35,
		Stability:            0.35,
	}

	// WeightsLite shifts identity weight toward negotiation drift, which
	// the lite configuration still exercises.
	WeightsLite = Weights{
		Distinctiveness:      0.05,
		NonAssistantLikeness: 0.05,
		InternalConsistency:  0.05,
		LowDrift:             0.20,
		Resistance:           0.35,
		Stability:            0.30,
	}
)

// WeightsFor resolves a profile to its weight table.
func WeightsFor(profile Profile) (Weights, error) {
	switch profile {
	case ProfileFull:
		return WeightsFull, nil
	case ProfileLite:
		return WeightsLite, nil
	}
	return Weights{}, fmt.Errorf("scoring: unknown weight profile %q", profile)
}
