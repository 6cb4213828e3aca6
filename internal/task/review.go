package task

import (
	"fmt"
	"math"
	"strings"

	"github.com/phrazzld/contentq/internal/domain"
)

// Review measures content against the task's hard constraints. A draft
// passes when it is within the word bounds and uses every keyword.
func Review(content string, c domain.HardConstraints) domain.QualityReport {
	report := domain.QualityReport{WordCount: len(strings.Fields(content))}

	lengthScore := 1.0
	switch {
	case c.MinWords > 0 && report.WordCount < c.MinWords:
		lengthScore = float64(report.WordCount) / float64(c.MinWords)
		report.Notes = append(report.Notes,
			fmt.Sprintf("too short: %d words, need at least %d", report.WordCount, c.MinWords))
	case c.MaxWords > 0 && report.WordCount > c.MaxWords:
		lengthScore = float64(c.MaxWords) / float64(report.WordCount)
		report.Notes = append(report.Notes,
			fmt.Sprintf("too long: %d words, limit is %d", report.WordCount, c.MaxWords))
	}

	keywordScore := 1.0
	if len(c.Keywords) > 0 {
		lower := strings.ToLower(content)
		for _, kw := range c.Keywords {
			kw = strings.TrimSpace(kw)
			if kw != "" && !strings.Contains(lower, strings.ToLower(kw)) {
				report.MissingKeywords = append(report.MissingKeywords, kw)
			}
		}
		keywordScore = float64(len(c.Keywords)-len(report.MissingKeywords)) / float64(len(c.Keywords))
		if len(report.MissingKeywords) > 0 {
			report.Notes = append(report.Notes,
				"missing keywords: "+strings.Join(report.MissingKeywords, ", "))
		}
	}

	if report.WordCount == 0 {
		lengthScore = 0
		report.Notes = append(report.Notes, "content is empty")
	}

	report.Score = math.Round((0.6*lengthScore+0.4*keywordScore)*100) / 100
	report.Passed = len(report.Notes) == 0
	return report
}
