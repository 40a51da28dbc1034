package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategoryValid(t *testing.T) {
	for _, c := range AllCategories {
		assert.True(t, c.Valid(), "category %q must be valid", c)
	}

	assert.False(t, Category("").Valid())
	assert.False(t, Category("food_diet").Valid(), "underscore form is not a valid category")
	assert.False(t, Category("finance").Valid())
}

func TestAllowedLabels(t *testing.T) {
	assert.Contains(t, AllowedLabels(CategoryFoodDiet), "allergy")
	assert.Empty(t, AllowedLabels(CategoryOther))
	assert.Empty(t, AllowedLabels(Category("finance")))
}

func TestUnknownLabels(t *testing.T) {
	unknown := UnknownLabels(CategoryFoodDiet, []string{"allergy", "spicy_food", "dislike"})
	assert.Equal(t, []string{"spicy_food"}, unknown)

	assert.Nil(t, UnknownLabels(CategoryFoodDiet, []string{"allergy"}))
	assert.Nil(t, UnknownLabels(CategoryGoal, nil))

	// Every label is unknown for a category with an empty allow-list.
	assert.Equal(t, []string{"misc"}, UnknownLabels(CategoryOther, []string{"misc"}))
}
