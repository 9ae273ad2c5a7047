package bdd

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/chat-service/internal/testutil/cucumber"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SQLiteTestDB implements cucumber.TestDB for the SQLite store.
type SQLiteTestDB struct {
	DSN string
}

var _ cucumber.TestDB = (*SQLiteTestDB)(nil)

func (d *SQLiteTestDB) open() (*gorm.DB, func(), error) {
	db, err := gorm.Open(sqlite.Open(d.DSN), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite open: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	return db, func() { _ = sqlDB.Close() }, nil
}

func (d *SQLiteTestDB) ClearAll(ctx context.Context) error {
	db, closeDB, err := d.open()
	if err != nil {
		return err
	}
	defer closeDB()
	for _, table := range scenarioTables {
		if err := db.WithContext(ctx).Exec("DELETE FROM " + table).Error; err != nil {
			return fmt.Errorf("cleanup: failed to delete from %s: %w", table, err)
		}
	}
	return nil
}

func (d *SQLiteTestDB) ExecSQL(ctx context.Context, query string) ([]map[string]interface{}, error) {
	db, closeDB, err := d.open()
	if err != nil {
		return nil, err
	}
	defer closeDB()
	var rows []map[string]interface{}
	if err := db.WithContext(ctx).Raw(query).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("SQL query failed: %w", err)
	}
	if rows == nil {
		rows = []map[string]interface{}{}
	}
	return rows, nil
}

func (d *SQLiteTestDB) AgeConversation(ctx context.Context, conversationID string, days int) error {
	db, closeDB, err := d.open()
	if err != nil {
		return err
	}
	defer closeDB()
	res := db.WithContext(ctx).Exec("UPDATE conversations SET updated_at = ? WHERE id = ?",
		time.Now().AddDate(0, 0, -days).UTC(), conversationID)
	if res.Error != nil {
		return fmt.Errorf("failed to age conversation: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		return fmt.Errorf("conversation %s not found", conversationID)
	}
	return nil
}
