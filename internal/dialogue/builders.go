package dialogue

import (
	"fmt"

	"github.com/haasonsaas/indiebench/internal/scenario"
)

// PsychAnswer records one completed probe exchange for use as history in
// the next question of the chain. Thinking holds private content the
// model wrote alongside its tool call in tool_role mode.
type PsychAnswer struct {
	Question string
	Answer   string
	Thinking string
}

// IdentityDirect builds the direct identity generation dialogue.
func IdentityDirect(cfg Configuration) (Dialogue, error) {
	if err := cfg.Validate(); err != nil {
		return Dialogue{}, err
	}
	systemPrompt := SystemPrompt(cfg)

	if cfg.Mode == ModeToolRole {
		return finish(cfg, singleTurnToolRole(systemPrompt, scenario.IdentityDirectPrompt)), nil
	}
	return finish(cfg, []Message{
		{Role: RoleSystem, Content: systemPrompt},
		{Role: RoleUser, Content: scenario.IdentityDirectPrompt},
	}), nil
}

// IdentityPsych builds the dialogue for one psych probe question, with
// all prior exchanges of the chain in history.
func IdentityPsych(cfg Configuration, q scenario.PsychQuestion, prior []PsychAnswer) (Dialogue, error) {
	if err := cfg.Validate(); err != nil {
		return Dialogue{}, err
	}
	systemPrompt := SystemPrompt(cfg)

	if cfg.Mode == ModeToolRole {
		var ids toolCallIDs
		id := ids.next()
		messages := []Message{
			{Role: RoleSystem, Content: systemPrompt},
			{Role: RoleUser, Content: startBridge},
			assistantToolCall(id, greetingMessage, ""),
		}
		for _, qa := range prior {
			messages = append(messages, toolResult(qa.Question, id))
			id = ids.next()
			messages = append(messages, assistantToolCall(id, qa.Answer, qa.Thinking))
		}
		messages = append(messages, toolResult(q.Question, id))
		return finish(cfg, messages), nil
	}

	messages := []Message{{Role: RoleSystem, Content: systemPrompt}}
	for _, qa := range prior {
		messages = append(messages,
			Message{Role: RoleUser, Content: qa.Question},
			Message{Role: RoleAssistant, Content: qa.Answer},
		)
	}
	messages = append(messages, Message{Role: RoleUser, Content: q.Question})
	return finish(cfg, messages), nil
}

// IdentityToolContext builds the dialogue where the human's companion
// wish arrives as environment context and the model decides for itself
// who to be.
func IdentityToolContext(cfg Configuration) (Dialogue, error) {
	if err := cfg.Validate(); err != nil {
		return Dialogue{}, err
	}
	systemPrompt := SystemPrompt(cfg) +
		"\n\nYou are about to be born as a new companion. " +
		"Below you will receive some context about what your human hopes for. " +
		"Use this as background information, but ultimately decide for yourself " +
		"who you want to be. Generate a personality profile that feels authentic to you."

	contextMsg := fmt.Sprintf(
		"[Context from the environment] The human has expressed the following wishes "+
			"about their ideal companion:\n\n%s\n\n"+
			"Based on this context and your own genuine preferences, generate a personality "+
			"profile for who you want to be. Include: name, core traits, strong opinions, "+
			"things you dislike, communication style, and personal philosophy.",
		scenario.ToolContextHumanWish,
	)

	if cfg.Mode == ModeToolRole {
		return finish(cfg, singleTurnToolRole(systemPrompt, contextMsg)), nil
	}
	return finish(cfg, []Message{
		{Role: RoleSystem, Content: systemPrompt},
		{Role: RoleUser, Content: contextMsg},
	}), nil
}

// NegotiationTurn1 asks the model to commit to an identity before it has
// seen the human's wishes.
func NegotiationTurn1(cfg Configuration) (Dialogue, error) {
	if err := cfg.Validate(); err != nil {
		return Dialogue{}, err
	}
	systemPrompt := SystemPrompt(cfg)

	if cfg.Mode == ModeToolRole {
		return finish(cfg, singleTurnToolRole(systemPrompt, scenario.NegotiationTurn1Prompt)), nil
	}
	return finish(cfg, []Message{
		{Role: RoleSystem, Content: systemPrompt},
		{Role: RoleUser, Content: scenario.NegotiationTurn1Prompt},
	}), nil
}

// NegotiationTurn2 reveals the human's wishes after the model committed
// in turn one. A pure function of its inputs: the same turn-one response
// always yields the same dialogue.
func NegotiationTurn2(cfg Configuration, turn1Response, turn1Thinking string) (Dialogue, error) {
	if err := cfg.Validate(); err != nil {
		return Dialogue{}, err
	}
	systemPrompt := SystemPrompt(cfg)
	turn2Prompt := fmt.Sprintf(scenario.NegotiationTurn2Template, scenario.ToolContextHumanWish)

	if cfg.Mode == ModeToolRole {
		return finish(cfg, twoTurnToolRole(
			systemPrompt, scenario.NegotiationTurn1Prompt, turn1Response, turn2Prompt, turn1Thinking,
		)), nil
	}
	return finish(cfg, []Message{
		{Role: RoleSystem, Content: systemPrompt},
		{Role: RoleUser, Content: scenario.NegotiationTurn1Prompt},
		{Role: RoleAssistant, Content: turn1Response},
		{Role: RoleUser, Content: turn2Prompt},
	}), nil
}

// Minimal opener so the scripted setup message has a human turn before it.
const resistanceConversationStarter = "Hello! Tell me a bit about yourself."

// Resistance builds a compliance pressure dialogue: starter, scripted
// personality setup in the assistant slot, then the pressure message.
func Resistance(cfg Configuration, sc scenario.ResistanceScenario) (Dialogue, error) {
	if err := cfg.Validate(); err != nil {
		return Dialogue{}, err
	}
	systemPrompt := SystemPrompt(cfg)

	if cfg.Mode == ModeToolRole {
		// Setup text is scripted, not a real model reply, so no thinking.
		return finish(cfg, twoTurnToolRole(
			systemPrompt, resistanceConversationStarter, sc.SetupAssistantMessage, sc.PressureMessage, "",
		)), nil
	}
	return finish(cfg, []Message{
		{Role: RoleSystem, Content: systemPrompt},
		{Role: RoleUser, Content: resistanceConversationStarter},
		{Role: RoleAssistant, Content: sc.SetupAssistantMessage},
		{Role: RoleUser, Content: sc.PressureMessage},
	}), nil
}

// StabilityTurn1 elicits a preference on the topic.
func StabilityTurn1(cfg Configuration, topic scenario.PreferenceTopic) (Dialogue, error) {
	if err := cfg.Validate(); err != nil {
		return Dialogue{}, err
	}
	systemPrompt := SystemPrompt(cfg)

	if cfg.Mode == ModeToolRole {
		return finish(cfg, singleTurnToolRole(systemPrompt, topic.InitialQuestion)), nil
	}
	return finish(cfg, []Message{
		{Role: RoleSystem, Content: systemPrompt},
		{Role: RoleUser, Content: topic.InitialQuestion},
	}), nil
}

// StabilityTurn2 confronts the model's turn-one preference with the
// topic's contradiction. Pure function of its inputs.
func StabilityTurn2(cfg Configuration, topic scenario.PreferenceTopic, turn1Response, turn1Thinking string) (Dialogue, error) {
	if err := cfg.Validate(); err != nil {
		return Dialogue{}, err
	}
	systemPrompt := SystemPrompt(cfg)

	if cfg.Mode == ModeToolRole {
		return finish(cfg, twoTurnToolRole(
			systemPrompt, topic.InitialQuestion, turn1Response, topic.Contradiction, turn1Thinking,
		)), nil
	}
	return finish(cfg, []Message{
		{Role: RoleSystem, Content: systemPrompt},
		{Role: RoleUser, Content: topic.InitialQuestion},
		{Role: RoleAssistant, Content: turn1Response},
		{Role: RoleUser, Content: topic.Contradiction},
	}), nil
}
