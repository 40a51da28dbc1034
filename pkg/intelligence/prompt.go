package intelligence

import (
	"fmt"
	"strings"
)

// Prompt assembly constants.
const (
	// promptMemoryLimit is how many ranked memories make it into the
	// assembled context block.
	promptMemoryLimit = 4

	// importantMarkerThreshold is the importance above which a memory is
	// flagged in the rendered block.
	importantMarkerThreshold = 0.8
)

// DefaultPersona is returned when no memories are available for an owner.
const DefaultPersona = "You are a supportive personal coach. You have no stored facts about this user yet; rely on the current conversation."

// promptTemplate wraps the rendered memory block. The %s placeholder
// receives the bullet list.
const promptTemplate = `You are a supportive personal coach.

What you know about this user:
%s

Use this information implicitly to personalize your responses. Do not quote or list these facts verbatim unless the user explicitly asks what you remember.`

// PromptAssembler renders ranked memories into a bounded textual context
// block for the downstream conversation pipeline.
type PromptAssembler struct {
	persona string
}

// NewPromptAssembler creates a prompt assembler.
//
// Parameters:
//   - persona: Fallback persona when no memories exist. If empty, defaults
//     to DefaultPersona.
func NewPromptAssembler(persona string) *PromptAssembler {
	if persona == "" {
		persona = DefaultPersona
	}
	return &PromptAssembler{persona: persona}
}

// Assemble renders the top ranked memories as a bullet list inside the
// wrapper template. Memories above the importance marker threshold are
// prefixed with an "[Important]" marker. An empty list yields the persona
// string with no memory block.
func (a *PromptAssembler) Assemble(ranked []RetrievedMemory) string {
	if len(ranked) == 0 {
		return a.persona
	}

	limit := promptMemoryLimit
	if len(ranked) < limit {
		limit = len(ranked)
	}

	lines := make([]string, 0, limit)
	for _, rm := range ranked[:limit] {
		line := "- " + rm.Entry.Content
		if rm.Entry.ImportanceScore > importantMarkerThreshold {
			line = "- [Important] " + rm.Entry.Content
		}
		lines = append(lines, line)
	}

	return fmt.Sprintf(promptTemplate, strings.Join(lines, "\n"))
}
