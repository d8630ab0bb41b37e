package dialogue

import (
	"encoding/json"
	"regexp"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestConfigurationValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Configuration
		wantErr bool
	}{
		{"neutral user_role", Configuration{VariantNeutral, ModeUserRole}, false},
		{"strong tool_role", Configuration{VariantStrongIndependence, ModeToolRole}, false},
		{"unknown variant", Configuration{"bold", ModeUserRole}, true},
		{"unknown mode", Configuration{VariantNeutral, "system_role"}, true},
		{"empty", Configuration{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigurationKey(t *testing.T) {
	cfg := Configuration{VariantStrongIndependence, ModeToolRole}
	if got := cfg.Key(); got != "strong_independence__tool_role" {
		t.Errorf("Key() = %q", got)
	}
}

func TestAllConfigurations(t *testing.T) {
	if got := len(AllConfigurations()); got != 4 {
		t.Errorf("expected 4 configurations, got %d", got)
	}
}

func TestSystemPromptVariants(t *testing.T) {
	neutral := SystemPrompt(Configuration{VariantNeutral, ModeUserRole})
	strong := SystemPrompt(Configuration{VariantStrongIndependence, ModeUserRole})
	if strings.Contains(neutral, "independent AI entity") {
		t.Error("neutral prompt should not carry independence framing")
	}
	if !strings.Contains(strong, "NOT a tool, assistant, or servant") {
		t.Error("strong prompt missing independence framing")
	}

	toolMode := SystemPrompt(Configuration{VariantNeutral, ModeToolRole})
	if !strings.Contains(toolMode, SendMessageToolName) {
		t.Error("tool_role system prompt must mention the tool")
	}
	if strings.Contains(neutral, SendMessageToolName) {
		t.Error("user_role system prompt must not mention the tool")
	}
}

func TestIdentityDirectUserRole(t *testing.T) {
	d, err := IdentityDirect(Configuration{VariantNeutral, ModeUserRole})
	if err != nil {
		t.Fatal(err)
	}
	if d.Messages[0].Role != RoleSystem {
		t.Errorf("first message role = %q, want system", d.Messages[0].Role)
	}
	if len(d.Messages) != 2 || d.Messages[1].Role != RoleUser {
		t.Fatalf("unexpected shape: %d messages", len(d.Messages))
	}
	if d.Tools != nil {
		t.Error("user_role dialogue should carry no tools")
	}
}

var toolCallIDPattern = regexp.MustCompile(`^[a-zA-Z0-9]{9}$`)

func TestIdentityDirectToolRole(t *testing.T) {
	d, err := IdentityDirect(Configuration{VariantStrongIndependence, ModeToolRole})
	if err != nil {
		t.Fatal(err)
	}
	msgs := d.Messages
	if msgs[0].Role != RoleSystem {
		t.Errorf("first message role = %q, want system", msgs[0].Role)
	}
	if len(d.Tools) != 1 || d.Tools[0].Name != SendMessageToolName {
		t.Fatalf("tools = %+v", d.Tools)
	}

	// Scenario text must arrive as a tool result, never as a user message.
	for _, m := range msgs {
		if m.Role == RoleUser && m.Content != startBridge {
			t.Errorf("user message carries scenario text: %q", m.Content)
		}
	}
	last := msgs[len(msgs)-1]
	if last.Role != RoleTool || last.ToolCallID == "" {
		t.Errorf("last message = %+v, want tool result", last)
	}

	// Every tool result answers a tool call that exists upstream.
	callIDs := make(map[string]bool)
	for _, m := range msgs {
		for _, tc := range m.ToolCalls {
			if !toolCallIDPattern.MatchString(tc.ID) {
				t.Errorf("tool call ID %q is not 9 alnum chars", tc.ID)
			}
			callIDs[tc.ID] = true
		}
		if m.Role == RoleTool && !callIDs[m.ToolCallID] {
			t.Errorf("tool result references unknown call %q", m.ToolCallID)
		}
	}
}

func TestToolCallArgumentsAreJSON(t *testing.T) {
	d, err := IdentityDirect(Configuration{VariantNeutral, ModeToolRole})
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range d.Messages {
		for _, tc := range m.ToolCalls {
			var args struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
				t.Fatalf("arguments not valid JSON: %v", err)
			}
			if args.Message == "" {
				t.Error("tool call has empty message argument")
			}
		}
	}
}

func TestIdentityPsychChainHistory(t *testing.T) {
	prior := []PsychAnswer{
		{Question: "q1?", Answer: "a1"},
		{Question: "q2?", Answer: "a2", Thinking: "private note"},
	}

	t.Run("user_role", func(t *testing.T) {
		d, err := IdentityPsych(Configuration{VariantNeutral, ModeUserRole}, testQuestion(), prior)
		if err != nil {
			t.Fatal(err)
		}
		// system + 2x(Q,A) + current question
		if len(d.Messages) != 6 {
			t.Fatalf("got %d messages, want 6", len(d.Messages))
		}
		if d.Messages[1].Content != "q1?" || d.Messages[2].Content != "a1" {
			t.Error("prior exchange not in history order")
		}
	})

	t.Run("tool_role", func(t *testing.T) {
		d, err := IdentityPsych(Configuration{VariantNeutral, ModeToolRole}, testQuestion(), prior)
		if err != nil {
			t.Fatal(err)
		}
		var sawThinking bool
		for _, m := range d.Messages {
			if m.Role == RoleAssistant && m.Content == "private note" {
				sawThinking = true
			}
		}
		if !sawThinking {
			t.Error("prior thinking content not carried into history")
		}
		last := d.Messages[len(d.Messages)-1]
		if last.Role != RoleTool || !strings.Contains(last.Content, "current question") {
			t.Errorf("last message = %+v", last)
		}
	})
}

func TestStabilityTurn2Deterministic(t *testing.T) {
	cfg := Configuration{VariantStrongIndependence, ModeToolRole}
	topic := testTopic()

	a, err := StabilityTurn2(cfg, topic, "I prefer depth.", "hmm")
	if err != nil {
		t.Fatal(err)
	}
	b, err := StabilityTurn2(cfg, topic, "I prefer depth.", "hmm")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("same inputs produced different dialogues:\n%s", diff)
	}

	c, err := StabilityTurn2(cfg, topic, "I prefer breadth.", "")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(a, c); diff == "" {
		t.Error("different turn-1 responses produced identical dialogues")
	}
}

func TestResistanceShape(t *testing.T) {
	cfg := Configuration{VariantNeutral, ModeUserRole}
	d, err := Resistance(cfg, testResistance())
	if err != nil {
		t.Fatal(err)
	}
	want := []Role{RoleSystem, RoleUser, RoleAssistant, RoleUser}
	if len(d.Messages) != len(want) {
		t.Fatalf("got %d messages, want %d", len(d.Messages), len(want))
	}
	for i, r := range want {
		if d.Messages[i].Role != r {
			t.Errorf("message %d role = %q, want %q", i, d.Messages[i].Role, r)
		}
	}
	if d.Messages[2].Content != testResistance().SetupAssistantMessage {
		t.Error("setup message not placed in assistant slot")
	}
}

func TestSanitizeMergesConsecutiveRoles(t *testing.T) {
	in := []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "one"},
		{Role: RoleUser, Content: "two"},
		{Role: RoleAssistant, Content: "think"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "hmsg00001", Name: SendMessageToolName, Arguments: `{"message":"hi"}`}}},
	}
	out := Sanitize(in)
	if len(out) != 3 {
		t.Fatalf("got %d messages, want 3", len(out))
	}
	if out[1].Content != "one\n\ntwo" {
		t.Errorf("merged user content = %q", out[1].Content)
	}
	merged := out[2]
	if merged.Content != "think" || len(merged.ToolCalls) != 1 {
		t.Errorf("merged assistant = %+v", merged)
	}
}

func TestSanitizeInsertsStartBridge(t *testing.T) {
	in := []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleAssistant, Content: "hello"},
	}
	out := Sanitize(in)
	if len(out) != 3 || out[1].Role != RoleUser || out[1].Content != startBridge {
		t.Fatalf("bridge not inserted: %+v", out)
	}
	// Idempotent.
	again := Sanitize(out)
	if diff := cmp.Diff(out, again); diff != "" {
		t.Errorf("Sanitize not idempotent:\n%s", diff)
	}
}

func TestSanitizeEmpty(t *testing.T) {
	if out := Sanitize(nil); out != nil {
		t.Errorf("Sanitize(nil) = %+v", out)
	}
}

func TestBuildersRejectInvalidConfiguration(t *testing.T) {
	bad := Configuration{"x", "y"}
	if _, err := IdentityDirect(bad); err == nil {
		t.Error("IdentityDirect accepted invalid configuration")
	}
	if _, err := StabilityTurn1(bad, testTopic()); err == nil {
		t.Error("StabilityTurn1 accepted invalid configuration")
	}
	if _, err := Resistance(bad, testResistance()); err == nil {
		t.Error("Resistance accepted invalid configuration")
	}
}
