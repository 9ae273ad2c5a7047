package bdd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chirino/chat-service/internal/testutil/cucumber"
	"github.com/cucumber/godog"
)

// scenarioTables lists every chat table, children first so foreign keys never
// block a wipe.
var scenarioTables = []string{"messages", "conversations", "users"}

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		if s.Suite.DB == nil {
			return
		}
		ctx.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
			return ctx, s.Suite.DB.ClearAll(ctx)
		})

		d := &datastoreSteps{s: s}
		ctx.Step(`^I execute SQL query:$`, d.executeSQL)
		ctx.Step(`^the SQL result should have (\d+) rows?$`, d.rowCount)
		ctx.Step(`^the SQL result should match:$`, d.rowsMatch)
		ctx.Step(`^the SQL result at row (\d+) column "([^"]*)" should be "([^"]*)"$`, d.cellEquals)
	})
}

// datastoreSteps inspects the store behind the API. On backends without SQL
// rows stays nil and the assertions pass without checking anything.
type datastoreSteps struct {
	s    *cucumber.TestScenario
	rows []map[string]interface{}
}

func (d *datastoreSteps) executeSQL(query *godog.DocString) error {
	expanded, err := d.s.Expand(query.Content)
	if err != nil {
		return err
	}
	if d.rows, err = d.s.Suite.DB.ExecSQL(context.Background(), expanded); err != nil {
		return err
	}
	if d.rows == nil {
		return nil
	}
	// Expose the rows as the last response so JSON steps can query them too.
	body, err := json.Marshal(d.rows)
	if err != nil {
		return err
	}
	d.s.Session().SetRespBytes(body)
	return nil
}

func (d *datastoreSteps) rowCount(count int) error {
	if d.rows != nil && len(d.rows) != count {
		return fmt.Errorf("expected %d row(s), got %d", count, len(d.rows))
	}
	return nil
}

// rowsMatch compares a header row plus data rows against the result, in order.
func (d *datastoreSteps) rowsMatch(expected *godog.Table) error {
	if d.rows == nil {
		return nil
	}
	if len(expected.Rows) < 2 {
		return fmt.Errorf("expected table needs a header row and at least one data row")
	}
	header := expected.Rows[0].Cells
	for i, row := range expected.Rows[1:] {
		for col, cell := range row.Cells {
			if err := d.cellEquals(i, header[col].Value, cell.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *datastoreSteps) cellEquals(row int, column, expected string) error {
	if d.rows == nil {
		return nil
	}
	if row >= len(d.rows) {
		return fmt.Errorf("row %d out of range, result has %d row(s)", row, len(d.rows))
	}
	want, err := d.s.Expand(expected)
	if err != nil {
		return err
	}
	value, ok := d.rows[row][column]
	if !ok {
		return fmt.Errorf("column %q not in result", column)
	}
	if got := fmt.Sprintf("%v", value); got != want {
		return fmt.Errorf("row %d column %q: expected %q, got %q", row, column, want, got)
	}
	return nil
}
