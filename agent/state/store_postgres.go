package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

type sessionRow struct {
	bun.BaseModel `bun:"table:grace_sessions,alias:gs"`

	TenantID     string          `bun:"tenant_id,pk"`
	CustomerID   string          `bun:"customer_id,pk"`
	Stage        string          `bun:"stage,notnull"`
	Payload      json.RawMessage `bun:"payload,type:jsonb,notnull"`
	LastActivity time.Time       `bun:"last_activity,notnull"`
	ArchivedAt   *time.Time      `bun:"archived_at,nullzero"`
	Version      int64           `bun:"version,notnull"`
}

// PostgresStore persists sessions in a single row per (tenant, customer).
// Saves are guarded by an optimistic version check.
type PostgresStore struct {
	db *bun.DB
}

func NewPostgresStore(db *bun.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the sessions table and its activity index.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := p.db.NewCreateTable().Model((*sessionRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create grace_sessions: %w", err)
	}
	if _, err := p.db.NewCreateIndex().
		Model((*sessionRow)(nil)).
		Index("grace_sessions_last_activity_idx").
		IfNotExists().
		Column("last_activity").
		Exec(ctx); err != nil {
		return fmt.Errorf("create grace_sessions index: %w", err)
	}
	return nil
}

func (p *PostgresStore) Load(ctx context.Context, tenantID, customerID string) (*Session, error) {
	if tenantID == "" || customerID == "" {
		return nil, ErrInvalidSession
	}

	row := new(sessionRow)
	err := p.db.NewSelect().
		Model(row).
		Where("tenant_id = ?", tenantID).
		Where("customer_id = ?", customerID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: select session: %v", ErrStoreUnavailable, err)
	}

	var sess Session
	if err := json.Unmarshal(row.Payload, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	sess.Version = row.Version
	sess.ArchivedAt = row.ArchivedAt
	if err := sess.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session loaded from store: %w", err)
	}
	return &sess, nil
}

func (p *PostgresStore) Save(ctx context.Context, sess *Session) error {
	if sess == nil {
		return ErrNilSession
	}
	if err := sess.Validate(); err != nil {
		return err
	}

	next := *sess
	next.Version++
	next.ArchivedAt = nil
	payload, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	row := &sessionRow{
		TenantID:     sess.TenantID,
		CustomerID:   sess.CustomerID,
		Stage:        string(sess.Stage),
		Payload:      payload,
		LastActivity: sess.LastActivity.UTC(),
		Version:      next.Version,
	}

	var res sql.Result
	if sess.Version == 0 {
		res, err = p.db.NewInsert().
			Model(row).
			On("CONFLICT (tenant_id, customer_id) DO NOTHING").
			Exec(ctx)
	} else {
		res, err = p.db.NewUpdate().
			Model(row).
			Column("stage", "payload", "last_activity", "archived_at", "version").
			WherePK().
			Where("?TableAlias.version = ?", sess.Version).
			Exec(ctx)
	}
	if err != nil {
		return fmt.Errorf("%w: save session: %v", ErrStoreUnavailable, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", ErrStoreUnavailable, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s at version %d", ErrVersionConflict, sess.Key(), sess.Version)
	}

	sess.Version = next.Version
	sess.ArchivedAt = nil
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, tenantID, customerID string) error {
	_, err := p.db.NewDelete().
		Model((*sessionRow)(nil)).
		Where("tenant_id = ?", tenantID).
		Where("customer_id = ?", customerID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: delete session: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (p *PostgresStore) ArchiveStale(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := p.db.NewUpdate().
		Model((*sessionRow)(nil)).
		Set("archived_at = ?", time.Now().UTC()).
		Where("last_activity < ?", olderThan.UTC()).
		Where("archived_at IS NULL").
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: archive sessions: %v", ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: rows affected: %v", ErrStoreUnavailable, err)
	}
	return int(n), nil
}
