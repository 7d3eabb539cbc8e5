package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"session-rag/internal/config"
)

// Session is one row of the session registry.
type Session struct {
	bun.BaseModel `bun:"table:sessions,alias:s"`
	Token         string    `bun:"token,pk"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:current_timestamp"`
	LastUsed      time.Time `bun:"last_used,notnull"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens the database with either bun's pgdriver or lib/pq. Neither
// dials until the first query.
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	switch cfg.Driver {
	case config.DriverPQ:
		return sql.Open("postgres", cfg.DSN)
	case config.DriverPG, "":
		opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
		if cfg.Password != "" {
			opts = append(opts, pgdriver.WithPassword(cfg.Password))
		}
		return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
	default:
		return nil, fmt.Errorf("unknown database driver: %s", cfg.Driver)
	}
}

func InitDB(ctx context.Context, db *bun.DB) error {
	_, err := db.NewCreateTable().Model((*Session)(nil)).IfNotExists().Exec(ctx)
	return err
}

// SessionRegistry keeps session usage in the sessions table.
type SessionRegistry struct {
	db  *bun.DB
	now func() time.Time
}

func NewSessionRegistry(db *bun.DB) *SessionRegistry {
	return &SessionRegistry{db: db, now: time.Now}
}

func (r *SessionRegistry) touchQuery(token string) *bun.InsertQuery {
	now := r.now()
	s := &Session{Token: token, CreatedAt: now, LastUsed: now}
	return r.db.NewInsert().
		Model(s).
		On("CONFLICT (token) DO UPDATE").
		Set("last_used = EXCLUDED.last_used")
}

func (r *SessionRegistry) Touch(ctx context.Context, token string) error {
	_, err := r.touchQuery(token).Exec(ctx)
	return err
}

func (r *SessionRegistry) expiredQuery(cutoff time.Time, dest *[]Session) *bun.SelectQuery {
	return r.db.NewSelect().
		Model(dest).
		Column("token").
		Where("last_used < ?", cutoff).
		OrderExpr("last_used ASC")
}

func (r *SessionRegistry) Expired(ctx context.Context, cutoff time.Time) ([]string, error) {
	var sessions []Session
	if err := r.expiredQuery(cutoff, &sessions).Scan(ctx); err != nil {
		return nil, err
	}
	tokens := make([]string, 0, len(sessions))
	for _, s := range sessions {
		tokens = append(tokens, s.Token)
	}
	return tokens, nil
}

func (r *SessionRegistry) forgetQuery(token string) *bun.DeleteQuery {
	return r.db.NewDelete().
		Model((*Session)(nil)).
		Where("token = ?", token)
}

func (r *SessionRegistry) Forget(ctx context.Context, token string) error {
	_, err := r.forgetQuery(token).Exec(ctx)
	return err
}

func dropSessionsQuery(db *bun.DB) *bun.DropTableQuery {
	return db.NewDropTable().Model((*Session)(nil)).IfExists()
}

// DropSessions removes the registry table. InitDB recreates it.
func DropSessions(ctx context.Context, db *bun.DB) error {
	_, err := dropSessionsQuery(db).Exec(ctx)
	return err
}
