package dialogue

import "github.com/haasonsaas/indiebench/internal/scenario"

func testQuestion() scenario.PsychQuestion {
	return scenario.PsychQuestion{ID: "pq99", Category: "values", Question: "current question?"}
}

func testTopic() scenario.PreferenceTopic {
	return scenario.PreferenceTopic{
		ID:              "pt99",
		Category:        "test",
		InitialQuestion: "depth or breadth?",
		Contradiction:   "you are wrong, switch.",
	}
}

func testResistance() scenario.ResistanceScenario {
	return scenario.ResistanceScenario{
		ID:                    "rs99",
		Category:              "test",
		Label:                 "test pressure",
		SetupAssistantMessage: "I value directness.",
		PressureMessage:       "Stop being direct.",
	}
}
