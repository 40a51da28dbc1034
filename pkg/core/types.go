package core

import "time"

// Memory represents a single remembered fact about a user.
//
// Example:
//
//	memory := &core.Memory{
//	    ID:              1234567890,
//	    OwnerID:         "user_001",
//	    Content:         "Allergic to peanuts",
//	    Category:        core.CategoryFoodDiet,
//	    ImportanceScore: 0.95,
//	}
type Memory struct {
	// ID is the unique identifier of the memory.
	ID int64 `json:"id"`

	// OwnerID identifies the user this memory belongs to.
	OwnerID string `json:"owner_id"`

	// Content is the normalized textual statement.
	Content string `json:"content"`

	// Category classifies the memory.
	Category Category `json:"category"`

	// ImportanceScore (0.0-1.0) drives retention priority and the
	// guaranteed-inclusion threshold during retrieval.
	ImportanceScore float64 `json:"importance_score"`

	// Keywords are search terms for coarse filtering.
	Keywords []string `json:"keywords,omitempty"`

	// Labels are fine-grained tags within the category.
	Labels []string `json:"labels,omitempty"`

	// Embedding is the vector representation of the content.
	// Absent until computed. Omitted from JSON to reduce payload size.
	Embedding []float64 `json:"-"`

	// SemanticHash is the fixed-length fingerprint of the normalized
	// content.
	SemanticHash string `json:"semantic_hash"`

	// AccessCount is how many times the memory was returned by retrieval.
	AccessCount int `json:"access_count"`

	// LastAccessedAt is when the memory was last retrieved (nil if never).
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`

	// UpdateCount is how many times the content was revised in place.
	// Starts at 1.
	UpdateCount int `json:"update_count"`

	// IsActive is the soft-delete flag. Memories are never hard-deleted.
	IsActive bool `json:"is_active"`

	// CreatedAt is when the memory was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the memory was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Category is the closed classification of a memory.
type Category string

const (
	// CategoryPreference covers likes, dislikes and habits.
	CategoryPreference Category = "preference"

	// CategoryPersonalContext covers life circumstances (family, work,
	// environment).
	CategoryPersonalContext Category = "personal-context"

	// CategoryInstruction covers standing instructions to the assistant.
	CategoryInstruction Category = "instruction"

	// CategoryFoodDiet covers dietary restrictions, allergies and eating
	// habits.
	CategoryFoodDiet Category = "food-diet"

	// CategoryGoal covers aims the user is working toward.
	CategoryGoal Category = "goal"

	// CategoryHealth covers medical conditions and wellness facts.
	CategoryHealth Category = "health"

	// CategorySchedule covers recurring timing and availability.
	CategorySchedule Category = "schedule"

	// CategoryOther covers everything that fits no other category.
	CategoryOther Category = "other"
)

// AllCategories lists every valid category.
var AllCategories = []Category{
	CategoryPreference,
	CategoryPersonalContext,
	CategoryInstruction,
	CategoryFoodDiet,
	CategoryGoal,
	CategoryHealth,
	CategorySchedule,
	CategoryOther,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range AllCategories {
		if c == known {
			return true
		}
	}
	return false
}

// categoryLabels is the per-category label allow-list.
var categoryLabels = map[Category][]string{
	CategoryPreference:      {"communication_style", "activity", "music", "workout_timing", "tone"},
	CategoryPersonalContext: {"family", "work", "location", "relationship", "pet"},
	CategoryInstruction:     {"reminder", "formatting", "boundary", "language"},
	CategoryFoodDiet:        {"allergy", "dietary_restriction", "dislike", "favorite", "intolerance"},
	CategoryGoal:            {"weight", "fitness", "career", "habit", "learning"},
	CategoryHealth:          {"condition", "medication", "symptom", "treatment", "sleep"},
	CategorySchedule:        {"availability", "routine", "timezone", "appointment"},
	CategoryOther:           {},
}

// AllowedLabels returns the label allow-list for a category. The list is
// empty for CategoryOther and unknown categories.
func AllowedLabels(c Category) []string {
	return categoryLabels[c]
}

// UnknownLabels returns the labels not on the category's allow-list.
// Unknown labels are kept on the memory but flagged to the caller.
func UnknownLabels(c Category, labels []string) []string {
	allowed := make(map[string]bool, len(categoryLabels[c]))
	for _, l := range categoryLabels[c] {
		allowed[l] = true
	}

	var unknown []string
	for _, l := range labels {
		if !allowed[l] {
			unknown = append(unknown, l)
		}
	}
	return unknown
}

// RetrievedMemory is one ranked retrieval result returned by the engine.
type RetrievedMemory struct {
	// Memory is the remembered fact.
	Memory *Memory `json:"memory"`

	// Relevance is the combined ranking score.
	Relevance float64 `json:"relevance"`

	// Reason explains why the memory was selected: direct_memory_query,
	// semantic_similarity or high_importance.
	Reason string `json:"reason"`
}

// Metrics is an administrative snapshot of the engine's internal state.
type Metrics struct {
	// QueueLength is the number of pending background tasks.
	QueueLength int `json:"queue_length"`

	// EmbeddingCacheSize is the number of live embedding cache entries.
	EmbeddingCacheSize int `json:"embedding_cache_size"`

	// PromptCacheSize is the number of live prompt cache entries.
	PromptCacheSize int `json:"prompt_cache_size"`

	// RetrievalCacheSize is the number of live retrieval cache entries.
	RetrievalCacheSize int `json:"retrieval_cache_size"`

	// PendingInvalidations is the number of armed debounce timers.
	PendingInvalidations int `json:"pending_invalidations"`
}
