package analyzer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/recorder-pg-migrator/pkg/models"
	"github.com/yourbasic/graph"
)

// SchemaSource exposes the source columns of a table
type SchemaSource interface {
	Columns(ctx context.Context, table string) ([]string, error)
}

// SchemaDestination exposes the destination columns and foreign keys
type SchemaDestination interface {
	Columns(ctx context.Context, table string) ([]string, error)
	ForeignKeys(ctx context.Context) ([]models.ForeignKey, error)
}

// PlanAnalyzer checks a migration plan against both schemas before any row is written.
// It reports problems but never changes the plan order.
type PlanAnalyzer struct {
	Source             SchemaSource
	Destination        SchemaDestination
	Plan               models.Plan
	SourceColumns      map[string][]string
	DestinationColumns map[string][]string
	ForeignKeys        map[string][]models.ForeignKey
	DependencyGraph    *graph.Mutable
	TableIndexMap      map[string]int
	IndexTableMap      map[int]string
	Logger             *logrus.Logger
}

// NewPlanAnalyzer creates a new plan analyzer
func NewPlanAnalyzer(source SchemaSource, destination SchemaDestination, plan models.Plan, logger *logrus.Logger) *PlanAnalyzer {
	return &PlanAnalyzer{
		Source:             source,
		Destination:        destination,
		Plan:               plan,
		SourceColumns:      make(map[string][]string),
		DestinationColumns: make(map[string][]string),
		ForeignKeys:        make(map[string][]models.ForeignKey),
		TableIndexMap:      make(map[string]int),
		IndexTableMap:      make(map[int]string),
		Logger:             logger,
	}
}

// AnalyzeSchema loads the columns of every plan table on both sides and the
// destination foreign keys, and builds the dependency graph over the plan tables.
func (pa *PlanAnalyzer) AnalyzeSchema(ctx context.Context) error {
	for i, spec := range pa.Plan.Tables {
		pa.TableIndexMap[spec.Name] = i
		pa.IndexTableMap[i] = spec.Name

		columns, err := pa.Source.Columns(ctx, spec.Name)
		if err != nil {
			pa.Logger.Errorf("Error getting source columns for %s: %v", spec.Name, err)
			return err
		}
		pa.SourceColumns[spec.Name] = columns

		columns, err = pa.Destination.Columns(ctx, spec.Name)
		if err != nil {
			pa.Logger.Errorf("Error getting destination columns for %s: %v", spec.Name, err)
			return err
		}
		pa.DestinationColumns[spec.Name] = columns
	}

	fks, err := pa.Destination.ForeignKeys(ctx)
	if err != nil {
		pa.Logger.Errorf("Error getting foreign keys: %v", err)
		return err
	}

	// Edges point from the referencing table to the referenced one
	pa.DependencyGraph = graph.New(len(pa.Plan.Tables))
	for _, fk := range fks {
		pa.ForeignKeys[fk.Table] = append(pa.ForeignKeys[fk.Table], fk)

		from, ok := pa.TableIndexMap[fk.Table]
		if !ok {
			continue
		}
		to, ok := pa.TableIndexMap[fk.ReferencedTable]
		if !ok || from == to {
			continue
		}
		pa.DependencyGraph.AddCost(from, to, 1)
	}

	pa.Logger.Debugf("Analyzed %d tables and %d foreign keys", len(pa.Plan.Tables), len(fks))
	return nil
}

// VerifyTables reports plan tables missing on either side and source columns
// the destination table does not have.
func (pa *PlanAnalyzer) VerifyTables() []models.PlanIssue {
	var issues []models.PlanIssue
	for _, spec := range pa.Plan.Tables {
		source := pa.SourceColumns[spec.Name]
		destination := pa.DestinationColumns[spec.Name]

		if len(source) == 0 {
			issues = append(issues, models.PlanIssue{Table: spec.Name, Message: "table not found in source"})
		}
		if len(destination) == 0 {
			issues = append(issues, models.PlanIssue{Table: spec.Name, Message: "table not found in destination"})
			continue
		}

		present := make(map[string]bool, len(destination))
		for _, col := range destination {
			present[col] = true
		}
		var missing []string
		for _, col := range source {
			if !present[col] {
				missing = append(missing, col)
			}
		}
		if len(missing) > 0 {
			issues = append(issues, models.PlanIssue{
				Table:   spec.Name,
				Message: fmt.Sprintf("destination is missing columns: %s", strings.Join(missing, ", ")),
			})
		}

		for _, col := range spec.BooleanColumns {
			if !present[col] {
				issues = append(issues, models.PlanIssue{
					Table:   spec.Name,
					Message: fmt.Sprintf("boolean column %s not found in destination", col),
				})
			}
		}
	}
	return issues
}

// CheckOrder reports foreign keys whose referenced table is migrated after the
// referencing one, and groups of tables that reference each other in a cycle.
func (pa *PlanAnalyzer) CheckOrder() []models.PlanIssue {
	var issues []models.PlanIssue
	if pa.DependencyGraph == nil {
		return issues
	}

	for from := 0; from < pa.DependencyGraph.Order(); from++ {
		var later []string
		pa.DependencyGraph.Visit(from, func(to int, _ int64) bool {
			if to > from {
				later = append(later, pa.IndexTableMap[to])
			}
			return false
		})
		sort.Strings(later)
		for _, referenced := range later {
			issues = append(issues, models.PlanIssue{
				Table:   pa.IndexTableMap[from],
				Message: fmt.Sprintf("references %s, which is migrated later", referenced),
			})
		}
	}

	if graph.Acyclic(pa.DependencyGraph) {
		return issues
	}
	for _, component := range graph.StrongComponents(pa.DependencyGraph) {
		if len(component) < 2 {
			continue
		}
		sort.Ints(component)
		names := make([]string, len(component))
		for i, idx := range component {
			names[i] = pa.IndexTableMap[idx]
		}
		issues = append(issues, models.PlanIssue{
			Table:   names[0],
			Message: fmt.Sprintf("foreign key cycle between %s", strings.Join(names, ", ")),
		})
	}
	return issues
}

// Analyze loads both schemas and returns every problem found with the plan
func (pa *PlanAnalyzer) Analyze(ctx context.Context) ([]models.PlanIssue, error) {
	if err := pa.AnalyzeSchema(ctx); err != nil {
		return nil, err
	}
	issues := pa.VerifyTables()
	issues = append(issues, pa.CheckOrder()...)
	for _, issue := range issues {
		pa.Logger.WithField("table", issue.Table).Warning(issue.Message)
	}
	return issues, nil
}
