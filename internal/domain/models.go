package domain

import "time"

// Question models an MCQ question. Answers reference options by position,
// so CorrectIndex must be a valid index into Options.
type Question struct {
	Prompt       string   `json:"prompt"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correctIndex"`
	Points       int      `json:"points"` // defaults to 1 if zero
	Explanation  string   `json:"explanation,omitempty"`
}

// PointValue returns the question's point worth with the default applied.
func (q Question) PointValue() int {
	if q.Points <= 0 {
		return 1
	}
	return q.Points
}

// Quiz is an ordered collection of questions. Attempts snapshot their graded
// answers at submission time, so later edits to a quiz never change a recorded score.
type Quiz struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// AnswerVector holds the selected option index per question, aligned
// positionally with Quiz.Questions. Nil entries mean "no answer".
type AnswerVector []*int

// GradedAnswer records the outcome for one question of an attempt.
type GradedAnswer struct {
	QuestionIndex int  `json:"questionIndex"`
	Selected      *int `json:"selected,omitempty"`
	Correct       bool `json:"correct"`
}

// RewardState tracks where an attempt sits in the reward settlement lifecycle.
type RewardState string

const (
	// RewardUnrewarded is the initial state of every recorded attempt.
	RewardUnrewarded RewardState = "unrewarded"
	// RewardPending means a transfer has been reserved or is in flight.
	RewardPending RewardState = "pending"
	// RewardCredited is terminal: tokens were paid and the balance credited.
	RewardCredited RewardState = "credited"
	// RewardFailed is terminal for the request that produced it; a new
	// settlement request may move the attempt back through Pending.
	RewardFailed RewardState = "failed"
)

// Attempt is one graded submission of answers against a quiz.
// Score, Percentage and Answers never change after Record; only the
// reward fields mutate, and only through the ledger's guarded transitions.
type Attempt struct {
	ID             string         `json:"id"`
	UserID         string         `json:"userId"`
	QuizID         string         `json:"quizId"`
	Answers        []GradedAnswer `json:"answers"`
	Score          int            `json:"score"`
	TotalQuestions int            `json:"totalQuestions"`
	Percentage     float64        `json:"percentage"`
	TimeTaken      int            `json:"timeTaken"` // seconds
	RewardState    RewardState    `json:"rewardState"`
	RewardedAmount int64          `json:"rewardedAmount"`
	TxHash         string         `json:"transactionHash,omitempty"`
	CompletedAt    time.Time      `json:"completedAt"`
}

// UserAggregate is the cumulative per-user record the leaderboard reads.
// TotalScore, QuizzesTaken and TokenBalance only ever increase.
type UserAggregate struct {
	UserID        string `json:"userId"`
	Username      string `json:"username"`
	WalletAddress string `json:"walletAddress,omitempty"`
	TotalScore    int    `json:"totalScore"`
	QuizzesTaken  int    `json:"quizzesTaken"`
	TokenBalance  int64  `json:"tokenBalance"`
}

// SortKey selects which aggregate field orders the leaderboard.
type SortKey string

const (
	SortByTotalScore   SortKey = "totalScore"
	SortByQuizzesTaken SortKey = "quizzesTaken"
	SortByTokenBalance SortKey = "tokenBalance"
)

// ParseSortKey maps a raw query value onto a known sort key,
// falling back to totalScore for anything unrecognized.
func ParseSortKey(raw string) SortKey {
	switch SortKey(raw) {
	case SortByQuizzesTaken, SortByTokenBalance:
		return SortKey(raw)
	default:
		return SortByTotalScore
	}
}

// LeaderboardEntry is one ranked row.
type LeaderboardEntry struct {
	Rank         int    `json:"rank"`
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	TotalScore   int    `json:"totalScore"`
	QuizzesTaken int    `json:"quizzesTaken"`
	TokenBalance int64  `json:"tokenBalance"`
}

// Leaderboard is a ranked page plus the metadata clients paginate with.
type Leaderboard struct {
	Entries     []LeaderboardEntry `json:"entries"`
	CurrentPage int                `json:"currentPage"`
	TotalPages  int                `json:"totalPages"`
	TotalCount  int                `json:"totalCount"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}
