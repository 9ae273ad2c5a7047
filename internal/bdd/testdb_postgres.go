package bdd

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/chat-service/internal/testutil/cucumber"
	"github.com/jackc/pgx/v5"
)

// PostgresTestDB reaches the postgres store's tables directly over pgx.
type PostgresTestDB struct {
	DBURL string
}

var _ cucumber.TestDB = (*PostgresTestDB)(nil)

func (p *PostgresTestDB) withConn(ctx context.Context, fn func(*pgx.Conn) error) error {
	conn, err := pgx.Connect(ctx, p.DBURL)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer conn.Close(ctx)
	return fn(conn)
}

func (p *PostgresTestDB) ClearAll(ctx context.Context) error {
	return p.withConn(ctx, func(conn *pgx.Conn) error {
		for _, table := range scenarioTables {
			if _, err := conn.Exec(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("cleanup: failed to delete from %s: %w", table, err)
			}
		}
		return nil
	})
}

// ExecSQL returns rows keyed by column name with timestamps as RFC 3339 text,
// matching how the API renders them.
func (p *PostgresTestDB) ExecSQL(ctx context.Context, query string) ([]map[string]interface{}, error) {
	result := []map[string]interface{}{}
	err := p.withConn(ctx, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query)
		if err != nil {
			return fmt.Errorf("SQL query failed: %w", err)
		}
		result, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (map[string]interface{}, error) {
			m, err := pgx.RowToMap(row)
			for k, v := range m {
				if t, ok := v.(time.Time); ok {
					m[k] = t.UTC().Format(time.RFC3339Nano)
				}
			}
			return m, err
		})
		return err
	})
	return result, err
}

func (p *PostgresTestDB) AgeConversation(ctx context.Context, conversationID string, days int) error {
	return p.withConn(ctx, func(conn *pgx.Conn) error {
		tag, err := conn.Exec(ctx,
			`UPDATE conversations SET updated_at = $1 WHERE id = $2::uuid`,
			time.Now().AddDate(0, 0, -days), conversationID)
		if err != nil {
			return fmt.Errorf("failed to age conversation: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("conversation %s not found", conversationID)
		}
		return nil
	})
}
