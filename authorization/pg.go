package authorization

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatehouse-io/gatehouse"
	"github.com/google/uuid"
)

// PGGrantStore persists grants in postgres. One row per (user, rule);
// assignment upserts so a user never holds two grants on the same rule.
type PGGrantStore struct {
	pool *pgxpool.Pool
}

var _ gatehouse.GrantStore = (*PGGrantStore)(nil)

// NewPGGrantStore returns a grant store over the given pool.
func NewPGGrantStore(pool *pgxpool.Pool) *PGGrantStore {
	return &PGGrantStore{pool: pool}
}

// Migrate creates the grants table when it does not exist yet.
func (s *PGGrantStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS permission_grants (
			user_id   UUID NOT NULL,
			rule_name TEXT NOT NULL,
			level     INT  NOT NULL,
			PRIMARY KEY (user_id, rule_name)
		)`)
	return err
}

func (s *PGGrantStore) Level(ctx context.Context, userID uuid.UUID, rule string) (gatehouse.PermissionLevel, bool, error) {
	var level int
	err := s.pool.QueryRow(ctx,
		`SELECT level FROM permission_grants WHERE user_id = $1 AND rule_name = $2`,
		userID, rule,
	).Scan(&level)
	if err == pgx.ErrNoRows {
		return gatehouse.LevelNone, false, nil
	}
	if err != nil {
		return gatehouse.LevelNone, false, err
	}
	return gatehouse.PermissionLevel(level), true, nil
}

func (s *PGGrantStore) Grants(ctx context.Context, userID uuid.UUID) ([]gatehouse.Grant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT rule_name, level FROM permission_grants WHERE user_id = $1 ORDER BY rule_name`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []gatehouse.Grant
	for rows.Next() {
		g := gatehouse.Grant{UserID: userID}
		var level int
		if err := rows.Scan(&g.Rule, &level); err != nil {
			return nil, err
		}
		g.Level = gatehouse.PermissionLevel(level)
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func (s *PGGrantStore) Assign(ctx context.Context, g gatehouse.Grant) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO permission_grants (user_id, rule_name, level)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, rule_name) DO UPDATE SET level = EXCLUDED.level`,
		g.UserID, g.Rule, int(g.Level),
	)
	return err
}

func (s *PGGrantStore) Remove(ctx context.Context, userID uuid.UUID, rule string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM permission_grants WHERE user_id = $1 AND rule_name = $2`,
		userID, rule,
	)
	return err
}
