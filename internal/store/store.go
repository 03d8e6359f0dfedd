package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"OminisNode/internal/models"

	sdkmath "cosmossdk.io/math"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OrderStore is the persistence boundary of the ledger mirror. Every write is
// an idempotent upsert that only touches the fields the event may change.
type OrderStore interface {
	InsertOrUpdateOrder(ctx context.Context, order *models.Order) error
	InsertOrUpdateSolution(ctx context.Context, sol *models.Solution) error
	InsertOrUpdateChallenge(ctx context.Context, ch *models.Challenge) error

	GetOrder(ctx context.Context, id uint64) (*models.Order, error)
	GetSolution(ctx context.Context, orderID uint64) (*models.Solution, error)
	GetChallenge(ctx context.Context, orderID uint64) (*models.Challenge, error)
	ListOrders(ctx context.Context, f OrderFilter) ([]*models.Order, error)
	CountOrders(ctx context.Context, f OrderFilter) (int64, error)
	Stats(ctx context.Context) (models.Stats, error)

	GetSyncHeight(ctx context.Context) (uint64, error)
	SetSyncHeight(ctx context.Context, height uint64) error
}

type OrderFilter struct {
	Status *models.OrderStatus
	Issuer string
	Solver string
	Limit  int
	Offset int
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 100
)

func (f OrderFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	}
	return f.Limit
}

func (f OrderFilter) offset() int {
	if f.Offset < 0 {
		return 0
	}
	return f.Offset
}

type Store struct {
	Pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

const orderColumns = `id, issuer, problem_hash, problem_type, time_tier, status, reward::text,
	created_at, deadline, solver, tx_hash, block_number, updated_at`

func (s *Store) InsertOrUpdateOrder(ctx context.Context, order *models.Order) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO orders (
			id, issuer, problem_hash, problem_type, time_tier, status,
			reward, created_at, deadline, solver, tx_hash, block_number
		) VALUES ($1,$2,$3,$4,$5,$6,$7::numeric,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET
			problem_hash = CASE WHEN orders.problem_hash = '' THEN EXCLUDED.problem_hash ELSE orders.problem_hash END,
			status = EXCLUDED.status,
			solver = COALESCE(EXCLUDED.solver, orders.solver),
			updated_at = now()
	`,
		int64(order.ID),
		order.Issuer,
		order.ProblemHash,
		int16(order.ProblemType),
		int16(order.TimeTier),
		int16(order.Status),
		intString(order.Reward),
		order.CreatedAt,
		order.Deadline,
		order.Solver,
		order.TxHash,
		int64(order.BlockNumber),
	)
	return err
}

func (s *Store) InsertOrUpdateSolution(ctx context.Context, sol *models.Solution) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO solutions (
			order_id, solver, commit_hash, solution, commit_time,
			reveal_time, is_revealed, tx_hash
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (order_id) DO UPDATE SET
			solver = CASE WHEN solutions.solver = '' THEN EXCLUDED.solver ELSE solutions.solver END,
			commit_hash = CASE WHEN solutions.commit_hash = '' THEN EXCLUDED.commit_hash ELSE solutions.commit_hash END,
			commit_time = COALESCE(solutions.commit_time, EXCLUDED.commit_time),
			solution = COALESCE(solutions.solution, EXCLUDED.solution),
			reveal_time = COALESCE(solutions.reveal_time, EXCLUDED.reveal_time),
			is_revealed = solutions.is_revealed OR EXCLUDED.is_revealed,
			tx_hash = CASE WHEN solutions.tx_hash = '' THEN EXCLUDED.tx_hash ELSE solutions.tx_hash END
	`,
		int64(sol.OrderID),
		sol.Solver,
		sol.CommitHash,
		sol.Text,
		nullTime(sol.CommitTime),
		sol.RevealTime,
		sol.IsRevealed,
		sol.TxHash,
	)
	return err
}

func (s *Store) InsertOrUpdateChallenge(ctx context.Context, ch *models.Challenge) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO challenges (
			order_id, challenger, stake, reason, challenge_time,
			resolved, challenger_won, tx_hash
		) VALUES ($1,$2,$3::numeric,$4,$5,$6,$7,$8)
		ON CONFLICT (order_id) DO UPDATE SET
			challenger = CASE WHEN challenges.challenger = '' THEN EXCLUDED.challenger ELSE challenges.challenger END,
			stake = CASE WHEN challenges.stake = 0 THEN EXCLUDED.stake ELSE challenges.stake END,
			reason = CASE WHEN challenges.reason = '' THEN EXCLUDED.reason ELSE challenges.reason END,
			challenge_time = COALESCE(challenges.challenge_time, EXCLUDED.challenge_time),
			challenger_won = CASE WHEN challenges.resolved THEN challenges.challenger_won ELSE EXCLUDED.challenger_won END,
			resolved = challenges.resolved OR EXCLUDED.resolved,
			tx_hash = CASE WHEN challenges.tx_hash = '' THEN EXCLUDED.tx_hash ELSE challenges.tx_hash END
	`,
		int64(ch.OrderID),
		ch.Challenger,
		intString(ch.Stake),
		ch.Reason,
		nullTime(ch.ChallengeTime),
		ch.Resolved,
		ch.ChallengerWon,
		ch.TxHash,
	)
	return err
}

func (s *Store) GetOrder(ctx context.Context, id uint64) (*models.Order, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, int64(id))
	order, err := scanOrder(row)
	if err != nil {
		return nil, notFound(err, "order %d", id)
	}
	return order, nil
}

func (s *Store) GetSolution(ctx context.Context, orderID uint64) (*models.Solution, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT order_id, solver, commit_hash, solution, commit_time,
			reveal_time, is_revealed, tx_hash
		FROM solutions WHERE order_id=$1
	`, int64(orderID))

	var (
		sol        models.Solution
		id         int64
		text       sql.NullString
		commitTime sql.NullTime
		revealTime sql.NullTime
	)
	if err := row.Scan(&id, &sol.Solver, &sol.CommitHash, &text, &commitTime, &revealTime, &sol.IsRevealed, &sol.TxHash); err != nil {
		return nil, notFound(err, "solution for order %d", orderID)
	}
	sol.OrderID = uint64(id)
	if text.Valid {
		sol.Text = &text.String
	}
	if commitTime.Valid {
		sol.CommitTime = commitTime.Time
	}
	if revealTime.Valid {
		sol.RevealTime = &revealTime.Time
	}
	return &sol, nil
}

func (s *Store) GetChallenge(ctx context.Context, orderID uint64) (*models.Challenge, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT order_id, challenger, stake::text, reason, challenge_time,
			resolved, challenger_won, tx_hash
		FROM challenges WHERE order_id=$1
	`, int64(orderID))

	var (
		ch            models.Challenge
		id            int64
		stake         string
		challengeTime sql.NullTime
	)
	if err := row.Scan(&id, &ch.Challenger, &stake, &ch.Reason, &challengeTime, &ch.Resolved, &ch.ChallengerWon, &ch.TxHash); err != nil {
		return nil, notFound(err, "challenge for order %d", orderID)
	}
	ch.OrderID = uint64(id)
	ch.Stake = parseInt(stake)
	if challengeTime.Valid {
		ch.ChallengeTime = challengeTime.Time
	}
	return &ch, nil
}

func (s *Store) ListOrders(ctx context.Context, f OrderFilter) ([]*models.Order, error) {
	where, args := f.where()
	args = append(args, f.limit(), f.offset())
	query := fmt.Sprintf(`SELECT %s FROM orders%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		orderColumns, where, len(args)-1, len(args))

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func (s *Store) CountOrders(ctx context.Context, f OrderFilter) (int64, error) {
	where, args := f.where()
	var n int64
	err := s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&n)
	return n, err
}

func (s *Store) Stats(ctx context.Context) (models.Stats, error) {
	var st models.Stats
	err := s.Pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status=$1),
			COUNT(*) FILTER (WHERE status=$2),
			COUNT(*) FILTER (WHERE status=$3)
		FROM orders
	`, int16(models.StatusOpen), int16(models.StatusVerified), int16(models.StatusRejected)).
		Scan(&st.TotalOrders, &st.OpenOrders, &st.CompletedOrders, &st.RejectedOrders)
	if err != nil {
		return st, err
	}
	if err := s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM challenges`).Scan(&st.TotalChallenges); err != nil {
		return st, err
	}
	st.SuccessRate = successRate(st.CompletedOrders, st.TotalOrders)
	return st, nil
}

func (s *Store) GetSyncHeight(ctx context.Context) (uint64, error) {
	row := s.Pool.QueryRow(ctx, "SELECT value FROM sync_state WHERE key='last_processed_height'")
	var v string
	if err := row.Scan(&v); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return strconv.ParseUint(v, 10, 64)
}

func (s *Store) SetSyncHeight(ctx context.Context, height uint64) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO sync_state (key, value)
		VALUES ('last_processed_height', $1)
		ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value
	`, strconv.FormatUint(height, 10))
	return err
}

func (f OrderFilter) where() (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	if f.Status != nil {
		args = append(args, int16(*f.Status))
		conds = append(conds, fmt.Sprintf("status=$%d", len(args)))
	}
	if f.Issuer != "" {
		args = append(args, f.Issuer)
		conds = append(conds, fmt.Sprintf("lower(issuer)=lower($%d)", len(args)))
	}
	if f.Solver != "" {
		args = append(args, f.Solver)
		conds = append(conds, fmt.Sprintf("lower(solver)=lower($%d)", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanOrder(row pgx.Row) (*models.Order, error) {
	var (
		order       models.Order
		id          int64
		problemType int16
		timeTier    int16
		status      int16
		reward      string
		solver      sql.NullString
		blockNumber int64
	)
	err := row.Scan(
		&id,
		&order.Issuer,
		&order.ProblemHash,
		&problemType,
		&timeTier,
		&status,
		&reward,
		&order.CreatedAt,
		&order.Deadline,
		&solver,
		&order.TxHash,
		&blockNumber,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	order.ID = uint64(id)
	order.ProblemType = models.ProblemType(problemType)
	order.TimeTier = models.TimeTier(timeTier)
	order.Status = models.OrderStatus(status)
	order.Reward = parseInt(reward)
	order.BlockNumber = uint64(blockNumber)
	if solver.Valid {
		order.Solver = &solver.String
	}
	return &order, nil
}

func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound.Wrapf(format, args...)
	}
	return err
}

func intString(v sdkmath.Int) string {
	if v.IsNil() {
		return "0"
	}
	return v.String()
}

func parseInt(s string) sdkmath.Int {
	v, ok := sdkmath.NewIntFromString(s)
	if !ok {
		return sdkmath.ZeroInt()
	}
	return v
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// successRate is the share of verified orders, in percent with two decimals.
func successRate(completed, total int64) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(completed)/float64(total)*10000) / 100
}
