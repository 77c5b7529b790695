package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// database row for a single balance. The community id is the empty string
// for global (unscoped) balances.
type balanceRow struct {
	CommunityID string    `gorm:"primaryKey;size:64"`
	MemberID    string    `gorm:"primaryKey;size:64"`
	Points      int64     `gorm:"not null;default:0;check:points >= 0"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (balanceRow) TableName() string {
	return "balances"
}

// Both sqlite (>= 3.35) and postgres accept this upsert form, and both
// evaluate the arithmetic against the stored row under the row lock, so
// concurrent writers from any number of processes never lose an update.
const (
	sqlUpsertAdd = `INSERT INTO balances (community_id, member_id, points, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (community_id, member_id) DO UPDATE SET
	points = balances.points + excluded.points,
	updated_at = excluded.updated_at
RETURNING points`

	sqlUpsertRemove = `INSERT INTO balances (community_id, member_id, points, updated_at)
VALUES (?, ?, 0, ?)
ON CONFLICT (community_id, member_id) DO UPDATE SET
	points = CASE WHEN balances.points > ? THEN balances.points - ? ELSE 0 END,
	updated_at = excluded.updated_at
RETURNING points`
)

// GormLedger stores balances in a SQL database through gorm. Works with the
// sqlite and postgres dialectors.
type GormLedger struct {
	Logger *slog.Logger
	db     *gorm.DB
	scope  Scope
}

var _ Ledger = (*GormLedger)(nil)

func NewGormLedger(db *gorm.DB, scope Scope) *GormLedger {
	return &GormLedger{Logger: slog.Default(), db: db, scope: scope}
}

func (l *GormLedger) Get(ctx context.Context, key Key) (int64, error) {
	var row balanceRow
	err := l.db.WithContext(ctx).
		Where("community_id = ? AND member_id = ?", key.Community, key.Member).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("get", err)
	}
	return row.Points, nil
}

func (l *GormLedger) Add(ctx context.Context, key Key, amount int64) (int64, error) {
	if err := checkMutation(key, amount); err != nil {
		return 0, err
	}
	total, err := upsertAdd(l.db.WithContext(ctx), key, amount, time.Now().UTC())
	if err != nil {
		return 0, unavailable("add", err)
	}
	return total, nil
}

func (l *GormLedger) Remove(ctx context.Context, key Key, amount int64) (int64, error) {
	if err := checkMutation(key, amount); err != nil {
		return 0, err
	}
	var total int64
	err := l.db.WithContext(ctx).
		Raw(sqlUpsertRemove, key.Community, key.Member, time.Now().UTC(), amount, amount).
		Scan(&total).Error
	if err != nil {
		return 0, unavailable("remove", err)
	}
	return total, nil
}

func (l *GormLedger) Reset(ctx context.Context, key Key) error {
	if err := checkMutation(key, 0); err != nil {
		return err
	}
	row := balanceRow{
		CommunityID: key.Community,
		MemberID:    key.Member,
		Points:      0,
		UpdatedAt:   time.Now().UTC(),
	}
	err := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "community_id"}, {Name: "member_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"points", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return unavailable("reset", err)
	}
	return nil
}

func (l *GormLedger) BulkReset(ctx context.Context, community string) error {
	err := l.db.WithContext(ctx).
		Model(&balanceRow{}).
		Where("community_id = ?", community).
		Updates(map[string]any{
			"points":     0,
			"updated_at": time.Now().UTC(),
		}).Error
	if err != nil {
		return unavailable("bulk reset", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (l *GormLedger) Close() error {
	sqldb, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqldb.Close()
}

func upsertAdd(db *gorm.DB, key Key, amount int64, now time.Time) (int64, error) {
	var total int64
	err := db.Raw(sqlUpsertAdd, key.Community, key.Member, amount, now).Scan(&total).Error
	return total, err
}
