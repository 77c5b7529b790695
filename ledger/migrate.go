package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
)

// name of the table written by earlier single-file bot deployments, and the
// name it is renamed to once imported
const (
	legacyTable         = "points"
	legacyImportedTable = "points_legacy"
)

type legacyPointsRow struct {
	UserID  int64
	GuildID sql.NullInt64
	Points  int64
}

// Migrate brings the balances table up to date with the configured scope.
// Safe to run on every startup; after the first successful run every step
// is a no-op.
//
//   - a legacy "points" table is imported (summed into balances) and renamed
//   - when scoping per community, global rows are merged into defaultCommunity
//   - when not scoping, per-community rows are collapsed into global rows
//
// In both merge directions balances are summed per member, so no points are
// lost when the deployment flips the scope setting.
func (l *GormLedger) Migrate(ctx context.Context, defaultCommunity string) error {
	db := l.db.WithContext(ctx)
	if err := db.AutoMigrate(&balanceRow{}); err != nil {
		return fmt.Errorf("migrating balances table: %w", err)
	}
	return db.Transaction(func(tx *gorm.DB) error {
		if err := l.importLegacy(tx, defaultCommunity); err != nil {
			return fmt.Errorf("importing legacy points: %w", err)
		}
		if l.scope.PerCommunity {
			if defaultCommunity == "" {
				l.Logger.Warn("per-community ledger without a default community; leaving global balances in place")
				return nil
			}
			return l.mergeRows(tx, "community_id = ?", []any{""}, defaultCommunity)
		}
		return l.mergeRows(tx, "community_id <> ?", []any{""}, "")
	})
}

// sums the points of every row matching cond per member, deletes those
// rows, and adds the sums onto the target community's rows
func (l *GormLedger) mergeRows(tx *gorm.DB, cond string, args []any, target string) error {
	var sums []struct {
		MemberID string
		Total    int64
	}
	err := tx.Model(&balanceRow{}).
		Select("member_id, SUM(points) AS total").
		Where(cond, args...).
		Group("member_id").
		Scan(&sums).Error
	if err != nil {
		return err
	}
	if len(sums) == 0 {
		return nil
	}
	if err := tx.Where(cond, args...).Delete(&balanceRow{}).Error; err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, s := range sums {
		if _, err := upsertAdd(tx, Key{Community: target, Member: s.MemberID}, s.Total, now); err != nil {
			return err
		}
	}
	l.Logger.Info("merged ledger balances", "members", len(sums), "target_community", target)
	return nil
}

func (l *GormLedger) importLegacy(tx *gorm.DB, defaultCommunity string) error {
	m := tx.Migrator()
	if !m.HasTable(legacyTable) {
		return nil
	}
	var rows []legacyPointsRow
	q := tx.Table(legacyTable)
	if m.HasColumn(legacyTable, "guild_id") {
		q = q.Select("user_id, guild_id, points")
	} else {
		q = q.Select("user_id, points")
	}
	if err := q.Scan(&rows).Error; err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, r := range rows {
		community := defaultCommunity
		if r.GuildID.Valid {
			community = strconv.FormatInt(r.GuildID.Int64, 10)
		}
		key := l.scope.Key(community, strconv.FormatInt(r.UserID, 10))
		if _, err := upsertAdd(tx, key, max(0, r.Points), now); err != nil {
			return err
		}
	}
	if err := m.RenameTable(legacyTable, legacyImportedTable); err != nil {
		return err
	}
	l.Logger.Info("imported legacy points table", "rows", len(rows), "renamed_to", legacyImportedTable)
	return nil
}
