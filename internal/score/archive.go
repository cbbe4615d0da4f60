package score

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/chatquiz/internal/domain"
	"github.com/victornm/chatquiz/internal/event"
)

// Schema creates the archive table.
const Schema = `
CREATE TABLE IF NOT EXISTS round_results (
	session_id TEXT NOT NULL,
	round_no   INT NOT NULL,
	winners    TEXT[] NOT NULL,
	players    JSONB NOT NULL,
	closed_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (session_id, round_no)
);`

type ArchiveConfig struct {
	EventBus *event.Bus
	DB       *pgxpool.Pool
	Now      func() time.Time
}

// Archive writes every closed round to Postgres. It is an audit trail only,
// nothing is read back into a session.
type Archive struct {
	db  *pgxpool.Pool
	now func() time.Time
}

func NewArchive(c ArchiveConfig) *Archive {
	a := &Archive{
		db:  c.DB,
		now: c.Now,
	}
	if a.now == nil {
		a.now = time.Now
	}

	c.EventBus.Subscribe(domain.EventNameRoundClosed, func(ctx context.Context, e event.Event) error {
		return a.RecordRound(ctx, e.(domain.EventRoundClosed))
	})

	return a
}

func (a *Archive) Migrate(ctx context.Context) error {
	if _, err := a.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("archive: migrate: %w", err)
	}
	return nil
}

type archivedPlayer struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// RecordRound inserts the round. Recording the same round twice keeps the
// first row.
func (a *Archive) RecordRound(ctx context.Context, e domain.EventRoundClosed) error {
	const stmt = `
INSERT INTO round_results (session_id, round_no, winners, players, closed_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (session_id, round_no) DO NOTHING;`

	players := make([]archivedPlayer, 0, len(e.Players))
	for _, p := range e.Players {
		players = append(players, archivedPlayer{Token: p.Token, UserID: p.User.ID, Name: p.User.Name})
	}

	winners := e.Winners
	if winners == nil {
		winners = []string{}
	}

	if _, err := a.db.Exec(ctx, stmt, e.SessionID, e.Round, winners, players, a.now()); err != nil {
		return fmt.Errorf("archive: insert round %d of session %s: %w", e.Round, e.SessionID, err)
	}

	return nil
}

// ListRounds returns the archived winners of a session in round order.
func (a *Archive) ListRounds(ctx context.Context, sessionID string) ([]domain.RoundResult, error) {
	const stmt = `SELECT winners FROM round_results WHERE session_id = $1 ORDER BY round_no;`

	rows, err := a.db.Query(ctx, stmt, sessionID)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.RoundResult, error) {
		var rr domain.RoundResult
		if err := r.Scan(&rr.Winners); err != nil {
			return domain.RoundResult{}, err
		}
		return rr, nil
	})
}
