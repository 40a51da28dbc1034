package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MemoryAnalysis is the structured result of analyzing a candidate text for
// long-term storage.
type MemoryAnalysis struct {
	// ShouldRemember reports whether the text contains durable personal
	// information worth storing.
	ShouldRemember bool `json:"should_remember"`

	// Category classifies the information (preference, personal-context,
	// instruction, food-diet, goal, health, schedule, other).
	Category string `json:"category"`

	// Importance scores the information from 0.0 to 1.0.
	Importance float64 `json:"importance"`

	// ExtractedInfo is the distilled, self-contained statement of the fact.
	ExtractedInfo string `json:"extracted_info"`

	// Labels are fine-grained tags within the category.
	Labels []string `json:"labels"`

	// Keywords are search terms derived from the text.
	Keywords []string `json:"keywords"`
}

// Analyzer extracts structured memory analysis from candidate text using an LLM.
//
// Example usage:
//
//	analyzer := llm.NewAnalyzer(provider)
//	analysis, err := analyzer.Analyze(ctx, "I'm allergic to peanuts")
//	// analysis.Category == "food-diet", analysis.Importance close to 1.0
type Analyzer struct {
	// llm is the LLM provider for analysis.
	llm Provider

	// customPrompt is an optional custom system prompt.
	// If empty, uses the default prompt.
	customPrompt string
}

// NewAnalyzer creates a new memory analyzer.
//
// Parameters:
//   - llm: LLM provider for analysis (required)
//
// Returns a new Analyzer with the default prompt.
func NewAnalyzer(llm Provider) *Analyzer {
	return &Analyzer{llm: llm}
}

// NewAnalyzerWithPrompt creates a new memory analyzer with a custom system prompt.
func NewAnalyzerWithPrompt(llm Provider, customPrompt string) *Analyzer {
	return &Analyzer{
		llm:          llm,
		customPrompt: customPrompt,
	}
}

// Analyze runs the analysis prompt against the candidate text.
//
// The analysis process:
//  1. Builds the system prompt with classification rules
//  2. Calls the LLM with the candidate text
//  3. Parses the JSON response into a MemoryAnalysis
//
// Parameters:
//   - ctx: Context for cancellation
//   - text: Candidate text to analyze
//
// Returns the parsed analysis, or an error if the call or the parse fails.
// Callers treat any error as "do not remember".
func (a *Analyzer) Analyze(ctx context.Context, text string) (*MemoryAnalysis, error) {
	messages := []Message{
		{Role: "system", Content: a.getSystemPrompt()},
		{Role: "user", Content: fmt.Sprintf("Input:\n%s", text)},
	}

	response, err := a.llm.GenerateWithMessages(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze text: %w", err)
	}

	analysis, err := a.parseResponse(response)
	if err != nil {
		return nil, fmt.Errorf("failed to parse analysis response: %w", err)
	}

	return analysis, nil
}

// getSystemPrompt returns the system prompt for memory analysis.
func (a *Analyzer) getSystemPrompt() string {
	if a.customPrompt != "" {
		return a.customPrompt
	}

	today := time.Now().Format("2006-01-02")
	return fmt.Sprintf(`You are a Personal Memory Analyst for a coaching assistant. Decide whether the input contains durable personal information worth remembering, and classify it.

Categories (exactly one): preference, personal-context, instruction, food-diet, goal, health, schedule, other.

Rules:
1. DURABLE ONLY: Remember stable facts, preferences, goals, health conditions, and standing instructions. Do not remember small talk, one-off questions, or transient state.
2. SELF-CONTAINED: Rewrite the fact so it stands alone (who/what/when where available).
3. IMPORTANCE: Score 0.0-1.0. Safety-relevant facts (allergies, medical conditions) score 0.9 or higher. Casual preferences score around 0.4-0.6.
4. LABELS: Fine-grained tags within the category (e.g. "allergy", "dietary_restriction" for food-diet).
5. KEYWORDS: Short search terms from the fact.

Examples:
Input: Hi, how are you?
Output: {"should_remember": false, "category": "other", "importance": 0.0, "extracted_info": "", "labels": [], "keywords": []}

Input: I'm allergic to peanuts.
Output: {"should_remember": true, "category": "food-diet", "importance": 0.95, "extracted_info": "Allergic to peanuts", "labels": ["allergy"], "keywords": ["peanuts", "allergy"]}

Input: I prefer morning workouts before 7am.
Output: {"should_remember": true, "category": "preference", "importance": 0.6, "extracted_info": "Prefers morning workouts before 7am", "labels": ["workout_timing"], "keywords": ["morning", "workout"]}

Rules:
- Today: %s
- Return JSON only, matching the output schema above
- Preserve input language in extracted_info

Analyze the input below:`, today)
}

// parseResponse parses the LLM response into a MemoryAnalysis.
func (a *Analyzer) parseResponse(response string) (*MemoryAnalysis, error) {
	response = removeCodeBlocks(response)

	var analysis MemoryAnalysis
	if err := json.Unmarshal([]byte(response), &analysis); err != nil {
		return nil, fmt.Errorf("invalid JSON response: %w", err)
	}

	if analysis.Importance < 0 {
		analysis.Importance = 0
	}
	if analysis.Importance > 1 {
		analysis.Importance = 1
	}

	return &analysis, nil
}

// removeCodeBlocks removes code blocks (```json ... ```) from a response.
func removeCodeBlocks(response string) string {
	response = strings.ReplaceAll(response, "```json", "")
	response = strings.ReplaceAll(response, "```", "")
	return strings.TrimSpace(response)
}
