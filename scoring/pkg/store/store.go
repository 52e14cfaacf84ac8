// Package store persists scored posts and per-author totals in PostgreSQL.
// The in-memory history store is warmed from author_totals at startup so
// scoring survives restarts.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver with database/sql
	"github.com/pressly/goose/v3"

	"github.com/flowdroplabs/flowdrop/scoring/pkg/history"
	"github.com/flowdroplabs/flowdrop/scoring/pkg/scoring"
)

//go:embed migrations/*.sql
var EmbedMigrations embed.FS

// UnitsForScore derives a member's distribution units from their lifetime
// cumulative score: one unit per score point, rounded to the nearest integer.
func UnitsForScore(cumulativeScore float64) int64 {
	return int64(math.Round(cumulativeScore))
}

type Store struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

// New wraps an existing connection pool.
func New(log *slog.Logger, pool *pgxpool.Pool) *Store {
	return &Store{log: log, pool: pool}
}

// Connect opens a connection pool against the given PostgreSQL DSN.
func Connect(ctx context.Context, log *slog.Logger, connStr string) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(pingCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	log.Info("connected to PostgreSQL")
	return &Store{log: log, pool: pool}, nil
}

// RunMigrations runs the embedded goose migrations against the DSN.
func RunMigrations(log *slog.Logger, connStr string) error {
	log.Info("running PostgreSQL migrations")

	goose.SetBaseFS(EmbedMigrations)

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info("PostgreSQL migrations completed")
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// HasPost reports whether a post with the given ID is already on file.
func (s *Store) HasPost(ctx context.Context, postID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM posts WHERE id = $1)`, postID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check post %s: %w", postID, err)
	}
	return exists, nil
}

// SavePost persists one scored post with its full breakdown. Re-delivery of
// a post already on file is a no-op.
func (s *Store) SavePost(ctx context.Context, post scoring.Post, bd scoring.ScoreBreakdown) error {
	var reasoning, flags []byte
	var err error
	if bd.Reasoning != nil {
		if reasoning, err = json.Marshal(bd.Reasoning); err != nil {
			return fmt.Errorf("failed to marshal reasoning: %w", err)
		}
	}
	if bd.Flags != nil {
		if flags, err = json.Marshal(bd.Flags); err != nil {
			return fmt.Errorf("failed to marshal flags: %w", err)
		}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO posts (
			id, author_id, body, created_at,
			likes, reshares, replies, reply_to, channel_id, has_link,
			author_followers, author_verified,
			communication_quality, community_impact, consistency, campaign_engagement,
			total_score, evaluator, reasoning, flags
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		ON CONFLICT (id) DO NOTHING`,
		post.ID, post.AuthorID, post.Text, post.CreatedAt,
		post.Likes, post.Reshares, post.Replies, post.ReplyTo, post.ChannelID, post.HasLink,
		post.AuthorFollowers, post.AuthorVerified,
		bd.CommunicationQuality, bd.CommunityImpact, bd.Consistency, bd.CampaignEngagement,
		bd.TotalScore, bd.Evaluator, reasoning, flags,
	)
	if err != nil {
		return fmt.Errorf("failed to insert post %s: %w", post.ID, err)
	}
	return nil
}

// UpsertAuthorTotals writes the author's rolling aggregate and returns the
// distribution units derived from the cumulative score.
func (s *Store) UpsertAuthorTotals(ctx context.Context, authorID string, entry history.Entry) (int64, error) {
	units := UnitsForScore(entry.CumulativeScore)

	var lastPostAt any
	if !entry.LastPostAt.IsZero() {
		lastPostAt = entry.LastPostAt
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO author_totals (author_id, post_count, cumulative_score, average_score, last_post_at, units, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,NOW())
		ON CONFLICT (author_id) DO UPDATE SET
			post_count = EXCLUDED.post_count,
			cumulative_score = EXCLUDED.cumulative_score,
			average_score = EXCLUDED.average_score,
			last_post_at = EXCLUDED.last_post_at,
			units = EXCLUDED.units,
			updated_at = NOW()`,
		authorID, entry.PostCount, entry.CumulativeScore, entry.AverageScore, lastPostAt, units,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert totals for author %s: %w", authorID, err)
	}
	return units, nil
}

// GetAuthorTotals returns the author's persisted aggregate and units.
// Unknown authors come back zero-valued, not as an error.
func (s *Store) GetAuthorTotals(ctx context.Context, authorID string) (history.Entry, int64, error) {
	var entry history.Entry
	var units int64
	var lastPostAt sql.NullTime

	err := s.pool.QueryRow(ctx, `
		SELECT post_count, cumulative_score, average_score, last_post_at, units
		FROM author_totals WHERE author_id = $1`, authorID,
	).Scan(&entry.PostCount, &entry.CumulativeScore, &entry.AverageScore, &lastPostAt, &units)
	if errors.Is(err, pgx.ErrNoRows) {
		return history.Entry{}, 0, nil
	}
	if err != nil {
		return history.Entry{}, 0, fmt.Errorf("failed to read totals for author %s: %w", authorID, err)
	}
	if lastPostAt.Valid {
		entry.LastPostAt = lastPostAt.Time
	}
	return entry, units, nil
}

// ListAuthorTotals returns every author's aggregate, keyed by author ID.
// Used to warm the in-memory history store at startup.
func (s *Store) ListAuthorTotals(ctx context.Context) (map[string]history.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT author_id, post_count, cumulative_score, average_score, last_post_at
		FROM author_totals`)
	if err != nil {
		return nil, fmt.Errorf("failed to list author totals: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]history.Entry)
	for rows.Next() {
		var authorID string
		var entry history.Entry
		var lastPostAt sql.NullTime
		if err := rows.Scan(&authorID, &entry.PostCount, &entry.CumulativeScore, &entry.AverageScore, &lastPostAt); err != nil {
			return nil, fmt.Errorf("failed to scan author totals: %w", err)
		}
		if lastPostAt.Valid {
			entry.LastPostAt = lastPostAt.Time
		}
		totals[authorID] = entry
	}
	return totals, rows.Err()
}
