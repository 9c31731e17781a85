// Package streak derives streak and completion-rate statistics from
// mirrored completion records. Every function is pure and treats its
// input as a set of calendar days: duplicate records for one day, which
// can exist transiently during reconciliation, count once.
package streak

import (
	"math"
	"sort"

	"github.com/limbo/cadence/pkg/calendar"
	"github.com/limbo/cadence/pkg/entity"
)

// CurrentStreak counts consecutive completed days ending at today or
// yesterday. A day missed before yesterday breaks the streak to 0;
// completing yesterday without today yet keeps the in-progress streak,
// since today is not broken until it ends.
func CurrentStreak(completions []entity.Completion) int {
	days := distinctDays(completions)
	if len(days) == 0 {
		return 0
	}
	today := calendar.Today()
	cursor := today
	if _, ok := days[today]; !ok {
		yesterday := calendar.Yesterday()
		if _, ok := days[yesterday]; !ok {
			return 0
		}
		cursor = yesterday
	}
	count := 0
	for {
		if _, ok := days[cursor]; !ok {
			return count
		}
		count++
		cursor = cursor.AddDays(-1)
	}
}

// LongestStreak returns the longest run of consecutive completed days
// anywhere in the history. Zero only for empty input.
func LongestStreak(completions []entity.Completion) int {
	days := sortedDays(completions)
	if len(days) == 0 {
		return 0
	}
	longest, run := 1, 1
	for i := 1; i < len(days); i++ {
		if calendar.DayDifference(days[i-1], days[i]) == 1 {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
	}
	return longest
}

// CompletionRate reports the share of the last windowDays calendar days
// (today inclusive) with a completion, as a percentage rounded to the
// nearest integer.
func CompletionRate(completions []entity.Completion, windowDays int) int {
	if windowDays <= 0 {
		return 0
	}
	days := distinctDays(completions)
	completed := 0
	for _, day := range calendar.LastNDays(windowDays) {
		if _, ok := days[day]; ok {
			completed++
		}
	}
	return int(math.Round(float64(completed) / float64(windowDays) * 100))
}

// TotalCompletions counts distinct completed days.
func TotalCompletions(completions []entity.Completion) int {
	return len(distinctDays(completions))
}

// Stats bundles the derived numbers for one habit's completions.
func Stats(habitID string, completions []entity.Completion) entity.HabitStats {
	stats := entity.HabitStats{
		HabitID:          habitID,
		TotalCompletions: TotalCompletions(completions),
		CurrentStreak:    CurrentStreak(completions),
		LongestStreak:    LongestStreak(completions),
		WeeklyRate:       CompletionRate(completions, 7),
	}
	if days := sortedDays(completions); len(days) > 0 {
		stats.LastCompleted = days[len(days)-1]
	}
	return stats
}

func distinctDays(completions []entity.Completion) map[calendar.Day]struct{} {
	days := make(map[calendar.Day]struct{}, len(completions))
	for _, completion := range completions {
		if completion.CompletedDate.IsZero() {
			continue
		}
		days[completion.CompletedDate] = struct{}{}
	}
	return days
}

func sortedDays(completions []entity.Completion) []calendar.Day {
	set := distinctDays(completions)
	days := make([]calendar.Day, 0, len(set))
	for day := range set {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days
}
