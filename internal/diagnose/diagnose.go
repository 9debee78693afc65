// Package diagnose runs read-only probes against the hosted tables.
package diagnose

import (
	"context"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/checkloops/checkloops/internal/staff"
	"github.com/checkloops/checkloops/pkg/supabase"
)

const probeConcurrency = 6

// DefaultTables are probed when no table is named.
var DefaultTables = []string{
	staff.TableMasterUsers,
	staff.TableSiteInvites,
	staff.TableKioskUsers,
	staff.TableTrainingTypes,
	staff.TableTrainingRecords,
	staff.TableQuizQuestions,
	staff.TableQuizOptions,
	staff.TableQuizAttempts,
	staff.TableQuizPractices,
	staff.TableHolidayRequests,
	staff.TableSlotMappings,
}

// TableReport is the result of probing one table.
type TableReport struct {
	Table    string        `json:"table"`
	Count    int           `json:"count"`
	Columns  []string      `json:"columns"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
	Error    string        `json:"error,omitempty"`
}

// OK reports whether the table could be read.
func (r TableReport) OK() bool {
	return r.Err == nil
}

// Prober probes tables through the Supabase REST API.
type Prober struct {
	client *supabase.Client
}

// New creates a new prober.
func New(client *supabase.Client) *Prober {
	return &Prober{client: client}
}

// Probe counts the rows of every table and reads the columns of its first row.
// Reports keep the order of tables. A failing table never aborts the others.
func (p *Prober) Probe(ctx context.Context, tables []string) []TableReport {
	if len(tables) == 0 {
		tables = DefaultTables
	}
	tables = lo.Uniq(tables)
	reports := make([]TableReport, len(tables))

	var g errgroup.Group
	g.SetLimit(probeConcurrency)
	for i, table := range tables {
		g.Go(func() error {
			reports[i] = p.probe(ctx, table)
			return nil
		})
	}
	_ = g.Wait()
	return reports
}

func (p *Prober) probe(ctx context.Context, table string) TableReport {
	start := time.Now()
	report := TableReport{Table: table}

	count, err := p.client.From(table).Count(ctx)
	if err == nil {
		report.Count = count
		var rows []map[string]any
		err = p.client.From(table).Select("*").Limit(1).Execute(ctx, &rows)
		if err == nil && len(rows) > 0 {
			report.Columns = lo.Keys(rows[0])
			slices.Sort(report.Columns)
		}
	}
	if err != nil {
		log.Warn("Probe failed", "table", table, "error", err)
		report.Err = err
		report.Error = err.Error()
	}
	report.Duration = time.Since(start)
	return report
}
