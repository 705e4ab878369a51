package app

import (
	"math"

	"quiz-reward-service/internal/domain"
)

// GradedResult is the outcome of grading one answer vector against a quiz.
type GradedResult struct {
	Score          int
	TotalQuestions int
	Percentage     float64
	CorrectCount   int
	Answers        []domain.GradedAnswer
}

// Grade scores an answer vector against a quiz definition. It is pure: no
// I/O, no clock, and it never fails. Missing or out-of-range selections are
// simply wrong answers, so a client that omits half the vector still gets a
// graded result.
func Grade(quiz domain.Quiz, answers domain.AnswerVector) GradedResult {
	result := GradedResult{
		TotalQuestions: len(quiz.Questions),
		Answers:        make([]domain.GradedAnswer, 0, len(quiz.Questions)),
	}

	for i, question := range quiz.Questions {
		var selected *int
		if i < len(answers) {
			selected = answers[i]
		}

		correct := selected != nil &&
			*selected >= 0 && *selected < len(question.Options) &&
			*selected == question.CorrectIndex

		if correct {
			result.Score += question.PointValue()
			result.CorrectCount++
		}
		result.Answers = append(result.Answers, domain.GradedAnswer{
			QuestionIndex: i,
			Selected:      selected,
			Correct:       correct,
		})
	}

	if result.TotalQuestions > 0 {
		pct := 100 * float64(result.Score) / float64(result.TotalQuestions)
		if pct > 100 {
			pct = 100
		}
		// two decimal places, like the percentages shown to users
		result.Percentage = math.Round(pct*100) / 100
	}
	return result
}
