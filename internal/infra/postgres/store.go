package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-reward-service/internal/domain"
)

// Store is the Postgres implementation of app.AttemptLedger and
// app.UserStore. Reward state transitions are single UPDATE statements
// guarded by the current state, so a transition succeeds for exactly one of
// any number of racing callers.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const attemptColumns = `id, user_id, quiz_id, answers, score, total_questions, percentage,
	time_taken, reward_state, rewarded_amount, tx_hash, completed_at`

func (s *Store) Record(ctx context.Context, attempt domain.Attempt) error {
	answers, err := json.Marshal(attempt.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO attempts (id, user_id, quiz_id, answers, score, total_questions, percentage,
			time_taken, reward_state, rewarded_amount, tx_hash, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		attempt.ID, attempt.UserID, attempt.QuizID, answers, attempt.Score, attempt.TotalQuestions,
		attempt.Percentage, attempt.TimeTaken, string(attempt.RewardState), attempt.RewardedAmount,
		attempt.TxHash, attempt.CompletedAt)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

func (s *Store) Find(ctx context.Context, attemptID string) (domain.Attempt, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE id=$1`, attemptID)
	return scanAttempt(row)
}

func (s *Store) ListByUser(ctx context.Context, userID string, page, pageSize int) ([]domain.Attempt, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM attempts WHERE user_id=$1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count attempts: %w", err)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+attemptColumns+` FROM attempts
		WHERE user_id=$1
		ORDER BY completed_at DESC, id
		LIMIT $2 OFFSET $3`,
		userID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	attempts, err := collectAttempts(rows)
	if err != nil {
		return nil, 0, err
	}
	return attempts, total, nil
}

func (s *Store) AllByUser(ctx context.Context, userID string) ([]domain.Attempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+attemptColumns+` FROM attempts
		WHERE user_id=$1
		ORDER BY completed_at DESC, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()
	return collectAttempts(rows)
}

func (s *Store) BeginSettlement(ctx context.Context, attemptID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE attempts SET reward_state=$2
		WHERE id=$1 AND reward_state IN ($3,$4)`,
		attemptID, string(domain.RewardPending),
		string(domain.RewardUnrewarded), string(domain.RewardFailed))
	if err != nil {
		return fmt.Errorf("begin settlement: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	// Lost the compare-and-set, or no such attempt.
	var state string
	err = s.pool.QueryRow(ctx, `SELECT reward_state FROM attempts WHERE id=$1`, attemptID).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrAttemptNotFound
	}
	if err != nil {
		return fmt.Errorf("begin settlement: %w", err)
	}
	return domain.ErrAlreadySettled
}

func (s *Store) ReleaseSettlement(ctx context.Context, attemptID string) error {
	return s.casUpdate(ctx, `
		UPDATE attempts SET reward_state=$2, tx_hash=''
		WHERE id=$1 AND reward_state=$3`,
		attemptID, string(domain.RewardUnrewarded), string(domain.RewardPending))
}

func (s *Store) MarkTransferSubmitted(ctx context.Context, attemptID, txHash string) error {
	return s.casUpdate(ctx, `
		UPDATE attempts SET tx_hash=$2
		WHERE id=$1 AND reward_state=$3`,
		attemptID, txHash, string(domain.RewardPending))
}

func (s *Store) FailSettlement(ctx context.Context, attemptID string) error {
	return s.casUpdate(ctx, `
		UPDATE attempts SET reward_state=$2, tx_hash=''
		WHERE id=$1 AND reward_state=$3`,
		attemptID, string(domain.RewardFailed), string(domain.RewardPending))
}

// CompleteSettlement stamps the attempt and credits the user's token
// balance in one transaction; a crash leaves either both writes or neither.
func (s *Store) CompleteSettlement(ctx context.Context, attemptID, txHash string, amount int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("complete settlement: %w", err)
	}
	defer tx.Rollback(ctx)

	var userID string
	err = tx.QueryRow(ctx, `
		UPDATE attempts SET reward_state=$2, tx_hash=$3, rewarded_amount=$4
		WHERE id=$1 AND reward_state=$5
		RETURNING user_id`,
		attemptID, string(domain.RewardCredited), txHash, amount, string(domain.RewardPending)).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrInvalidTransition
	}
	if err != nil {
		return fmt.Errorf("stamp attempt: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE users SET token_balance = token_balance + $2 WHERE id=$1`,
		userID, amount); err != nil {
		return fmt.Errorf("credit balance: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Store) casUpdate(ctx context.Context, sql string, args ...interface{}) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

func (s *Store) Get(ctx context.Context, userID string) (domain.UserAggregate, error) {
	var user domain.UserAggregate
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, wallet_address, total_score, quizzes_taken, token_balance
		FROM users WHERE id=$1`, userID).
		Scan(&user.UserID, &user.Username, &user.WalletAddress, &user.TotalScore, &user.QuizzesTaken, &user.TokenBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UserAggregate{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.UserAggregate{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// UpsertUser registers or refreshes a user's identity fields. Aggregate
// counters are never written here; they move only through
// OnAttemptCompleted and CompleteSettlement.
func (s *Store) UpsertUser(ctx context.Context, user domain.UserAggregate) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, username, wallet_address, total_score, quizzes_taken, token_balance)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET username=EXCLUDED.username, wallet_address=EXCLUDED.wallet_address`,
		user.UserID, user.Username, user.WalletAddress, user.TotalScore, user.QuizzesTaken, user.TokenBalance)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *Store) OnAttemptCompleted(ctx context.Context, userID string, score int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET total_score = total_score + $2, quizzes_taken = quizzes_taken + 1
		WHERE id=$1`, userID, score)
	if err != nil {
		return fmt.Errorf("update aggregate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (s *Store) Page(ctx context.Context, key domain.SortKey, page, pageSize int) ([]domain.UserAggregate, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, username, wallet_address, total_score, quizzes_taken, token_balance
		FROM users
		ORDER BY `+sortColumn(key)+` DESC, id
		LIMIT $1 OFFSET $2`, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("page users: %w", err)
	}
	defer rows.Close()

	var aggregates []domain.UserAggregate
	for rows.Next() {
		var user domain.UserAggregate
		if err := rows.Scan(&user.UserID, &user.Username, &user.WalletAddress,
			&user.TotalScore, &user.QuizzesTaken, &user.TokenBalance); err != nil {
			return nil, 0, fmt.Errorf("scan user: %w", err)
		}
		aggregates = append(aggregates, user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("page users: %w", err)
	}
	return aggregates, total, nil
}

func (s *Store) CountGreater(ctx context.Context, key domain.SortKey, value int64) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM users WHERE `+sortColumn(key)+` > $1`, value).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count greater: %w", err)
	}
	return count, nil
}

// sortColumn whitelists the sortable columns; sort keys are never
// interpolated from raw client input.
func sortColumn(key domain.SortKey) string {
	switch key {
	case domain.SortByQuizzesTaken:
		return "quizzes_taken"
	case domain.SortByTokenBalance:
		return "token_balance"
	default:
		return "total_score"
	}
}

func scanAttempt(row pgx.Row) (domain.Attempt, error) {
	var attempt domain.Attempt
	var answers []byte
	var state string
	err := row.Scan(&attempt.ID, &attempt.UserID, &attempt.QuizID, &answers, &attempt.Score,
		&attempt.TotalQuestions, &attempt.Percentage, &attempt.TimeTaken, &state,
		&attempt.RewardedAmount, &attempt.TxHash, &attempt.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("scan attempt: %w", err)
	}
	attempt.RewardState = domain.RewardState(state)
	if err := json.Unmarshal(answers, &attempt.Answers); err != nil {
		return domain.Attempt{}, fmt.Errorf("unmarshal answers: %w", err)
	}
	return attempt, nil
}

func collectAttempts(rows pgx.Rows) ([]domain.Attempt, error) {
	var attempts []domain.Attempt
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return attempts, nil
}
