package file_generators

import (
	"strings"

	"github.com/muktihari/fit/profile/typedef"
)

// exerciseRules maps substrings of exercise names to FIT categories.
// Order matters: more specific phrases come before the generic ones
// they contain ("leg curl" before "curl").
var exerciseRules = []struct {
	match    string
	category typedef.ExerciseCategory
}{
	// Chest
	{"bench press", typedef.ExerciseCategoryBenchPress},
	{"chest press", typedef.ExerciseCategoryBenchPress},
	{"push up", typedef.ExerciseCategoryBenchPress},
	{"pushup", typedef.ExerciseCategoryBenchPress},
	{"reverse fly", typedef.ExerciseCategoryLateralRaise},
	{"flye", typedef.ExerciseCategoryFlye},
	{"fly", typedef.ExerciseCategoryFlye},

	// Back
	{"deadlift", typedef.ExerciseCategoryDeadlift},
	{"pull up", typedef.ExerciseCategoryPullUp},
	{"pullup", typedef.ExerciseCategoryPullUp},
	{"chin up", typedef.ExerciseCategoryPullUp},
	{"pulldown", typedef.ExerciseCategoryPullUp},
	{"row", typedef.ExerciseCategoryRow},

	// Legs
	{"leg press", typedef.ExerciseCategorySquat},
	{"squat", typedef.ExerciseCategorySquat},
	{"lunge", typedef.ExerciseCategoryLunge},
	{"leg curl", typedef.ExerciseCategoryLegCurl},
	{"leg extension", typedef.ExerciseCategoryLegCurl},
	{"calf raise", typedef.ExerciseCategoryCalfRaise},

	// Shoulders
	{"shoulder press", typedef.ExerciseCategoryShoulderPress},
	{"overhead press", typedef.ExerciseCategoryShoulderPress},
	{"military press", typedef.ExerciseCategoryShoulderPress},
	{"lateral raise", typedef.ExerciseCategoryLateralRaise},
	{"side raise", typedef.ExerciseCategoryLateralRaise},
	{"front raise", typedef.ExerciseCategoryLateralRaise},
	{"rear delt", typedef.ExerciseCategoryLateralRaise},
	{"shrug", typedef.ExerciseCategoryShrug},

	// Arms
	{"tricep extension", typedef.ExerciseCategoryTricepsExtension},
	{"triceps extension", typedef.ExerciseCategoryTricepsExtension},
	{"dip", typedef.ExerciseCategoryTricepsExtension},
	{"curl", typedef.ExerciseCategoryCurl},

	// Core
	{"crunch", typedef.ExerciseCategoryCrunch},
	{"sit up", typedef.ExerciseCategoryCrunch},
	{"situp", typedef.ExerciseCategoryCrunch},
	{"plank", typedef.ExerciseCategoryPlank},

	// Olympic lifts
	{"clean", typedef.ExerciseCategoryOlympicLift},
	{"snatch", typedef.ExerciseCategoryOlympicLift},
	{"jerk", typedef.ExerciseCategoryOlympicLift},
}

// MapExerciseToCategory maps an exercise name to the closest FIT
// exercise category, falling back to unknown when nothing matches.
func MapExerciseToCategory(exerciseName string) typedef.ExerciseCategory {
	name := strings.ToLower(strings.TrimSpace(exerciseName))
	for _, rule := range exerciseRules {
		if strings.Contains(name, rule.match) {
			return rule.category
		}
	}
	return typedef.ExerciseCategoryUnknown
}
