// Package doctor provides health checks for a stillsuit deployment.
//
// The doctor command validates that resolution is properly configured by
// checking the model file, backend connectivity, storage schema and search
// configuration.
//
// Example usage:
//
//	d := doctor.New("model.yaml", be, "postgres")
//	report, err := d.Run(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//	report.Print(os.Stdout, true) // verbose=true
package doctor

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pthm/stillsuit/backend"
	"github.com/pthm/stillsuit/internal/eval"
	"github.com/pthm/stillsuit/model"
	"github.com/pthm/stillsuit/querytree"
)

// Status represents the result of a health check.
type Status int

const (
	// StatusPass indicates the check passed.
	StatusPass Status = iota
	// StatusWarn indicates a non-critical issue.
	StatusWarn
	// StatusFail indicates a critical issue that will cause failures.
	StatusFail
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusWarn:
		return "warn"
	case StatusFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Symbol returns a status indicator symbol for terminal output.
func (s Status) Symbol() string {
	switch s {
	case StatusPass:
		return "✓"
	case StatusWarn:
		return "⚠"
	case StatusFail:
		return "✗"
	default:
		return "?"
	}
}

// CheckResult represents the outcome of a single health check.
type CheckResult struct {
	// Category groups related checks (e.g., "model", "backend", "search").
	Category string

	// Name is a short identifier for the check.
	Name string

	// Status is the check outcome.
	Status Status

	// Message is a human-readable description of the result.
	Message string

	// Details provides additional information for verbose output.
	Details string

	// FixHint suggests how to resolve issues.
	FixHint string
}

// Report contains all health check results.
type Report struct {
	Checks []CheckResult

	// Summary counts.
	Passed   int
	Warnings int
	Errors   int
}

// AddCheck adds a check result and updates summary counts.
func (r *Report) AddCheck(check CheckResult) {
	r.Checks = append(r.Checks, check)
	switch check.Status {
	case StatusPass:
		r.Passed++
	case StatusWarn:
		r.Warnings++
	case StatusFail:
		r.Errors++
	}
}

// Print writes the report to the given writer.
func (r *Report) Print(w io.Writer, verbose bool) {
	// Group checks by category
	categories := make(map[string][]CheckResult)
	var categoryOrder []string
	for _, check := range r.Checks {
		if _, exists := categories[check.Category]; !exists {
			categoryOrder = append(categoryOrder, check.Category)
		}
		categories[check.Category] = append(categories[check.Category], check)
	}

	// Print each category
	for _, cat := range categoryOrder {
		_, _ = fmt.Fprintf(w, "\n%s\n", cat)
		for _, check := range categories[cat] {
			_, _ = fmt.Fprintf(w, "  %s %s\n", check.Status.Symbol(), check.Message)
			if verbose && check.Details != "" {
				// Indent details
				for _, line := range strings.Split(check.Details, "\n") {
					_, _ = fmt.Fprintf(w, "      %s\n", line)
				}
			}
			if check.Status != StatusPass && check.FixHint != "" {
				_, _ = fmt.Fprintf(w, "      Fix: %s\n", check.FixHint)
			}
		}
	}

	// Print summary
	_, _ = fmt.Fprintf(w, "\nSummary: %d passed, %d warnings, %d errors\n",
		r.Passed, r.Warnings, r.Errors)
}

// HasErrors returns true if any check failed.
func (r *Report) HasErrors() bool {
	return r.Errors > 0
}

// Pinger is implemented by backends with a connection to verify.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SchemaChecker is implemented by backends with a storage schema.
type SchemaChecker interface {
	SchemaPresent(ctx context.Context) (bool, error)
}

// Doctor performs health checks on a stillsuit deployment.
type Doctor struct {
	modelPath string
	be        backend.Backend
	kind      string

	// Cached data from checks (populated during Run)
	mdl *model.Model
}

// New creates a new Doctor instance. The backend may be nil when only the
// model should be checked.
func New(modelPath string, be backend.Backend, kind string) *Doctor {
	return &Doctor{
		modelPath: modelPath,
		be:        be,
		kind:      kind,
	}
}

// Run executes all health checks and returns a report.
func (d *Doctor) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	// Run checks in order, building up cached data
	d.checkModelFile(report)
	d.checkBackend(ctx, report)
	d.checkStorageSchema(ctx, report)
	d.checkSearch(ctx, report)
	d.checkData(ctx, report)

	return report, nil
}

func (d *Doctor) checkModelFile(report *Report) {
	m, err := model.LoadFile(d.modelPath)
	if err != nil {
		report.AddCheck(CheckResult{
			Category: "Model",
			Name:     "model_file",
			Status:   StatusFail,
			Message:  fmt.Sprintf("model file %s could not be loaded", d.modelPath),
			Details:  err.Error(),
			FixHint:  "check the path and YAML syntax",
		})
		return
	}
	if err := m.Validate(); err != nil {
		report.AddCheck(CheckResult{
			Category: "Model",
			Name:     "model_valid",
			Status:   StatusFail,
			Message:  "model does not validate",
			Details:  err.Error(),
		})
		return
	}
	d.mdl = m

	report.AddCheck(CheckResult{
		Category: "Model",
		Name:     "model_valid",
		Status:   StatusPass,
		Message:  fmt.Sprintf("model valid: %d types, %d permission profiles", len(m.Types), len(m.Profiles)),
	})

	unprotected := 0
	for _, t := range m.Types {
		if t.Profile == "" {
			unprotected++
		}
	}
	if unprotected > 0 {
		report.AddCheck(CheckResult{
			Category: "Model",
			Name:     "profiles",
			Status:   StatusWarn,
			Message:  fmt.Sprintf("%d of %d types carry no permission profile", unprotected, len(m.Types)),
			Details:  "unprotected types are readable and writable by every caller",
		})
	}
}

func (d *Doctor) checkBackend(ctx context.Context, report *Report) {
	if d.be == nil {
		report.AddCheck(CheckResult{
			Category: "Backend",
			Name:     "configured",
			Status:   StatusWarn,
			Message:  "no backend configured; only static requests will resolve",
		})
		return
	}

	p, ok := d.be.(Pinger)
	if !ok {
		report.AddCheck(CheckResult{
			Category: "Backend",
			Name:     "reachable",
			Status:   StatusPass,
			Message:  fmt.Sprintf("%s backend needs no connection", d.kind),
		})
		return
	}
	if err := p.Ping(ctx); err != nil {
		report.AddCheck(CheckResult{
			Category: "Backend",
			Name:     "reachable",
			Status:   StatusFail,
			Message:  fmt.Sprintf("%s backend is not reachable", d.kind),
			Details:  err.Error(),
			FixHint:  "check the connection settings",
		})
		return
	}
	report.AddCheck(CheckResult{
		Category: "Backend",
		Name:     "reachable",
		Status:   StatusPass,
		Message:  fmt.Sprintf("%s backend reachable", d.kind),
	})
}

func (d *Doctor) checkStorageSchema(ctx context.Context, report *Report) {
	sc, ok := d.be.(SchemaChecker)
	if !ok {
		return
	}
	present, err := sc.SchemaPresent(ctx)
	if err != nil {
		report.AddCheck(CheckResult{
			Category: "Backend",
			Name:     "schema",
			Status:   StatusFail,
			Message:  "storage schema could not be checked",
			Details:  err.Error(),
		})
		return
	}
	if !present {
		report.AddCheck(CheckResult{
			Category: "Backend",
			Name:     "schema",
			Status:   StatusFail,
			Message:  "storage schema is missing",
			FixHint:  "run: stillsuit migrate",
		})
		return
	}
	report.AddCheck(CheckResult{
		Category: "Backend",
		Name:     "schema",
		Status:   StatusPass,
		Message:  "storage schema present",
	})
}

func (d *Doctor) checkSearch(ctx context.Context, report *Report) {
	if d.mdl == nil {
		return
	}

	searchable := 0
	for _, t := range d.mdl.Types {
		for _, f := range t.Fields {
			if f.Searchable {
				searchable++
			}
		}
	}
	if searchable == 0 {
		report.AddCheck(CheckResult{
			Category: "Search",
			Name:     "configured",
			Status:   StatusPass,
			Message:  "no searchable fields declared",
		})
		return
	}
	if d.be == nil {
		report.AddCheck(CheckResult{
			Category: "Search",
			Name:     "tokenization",
			Status:   StatusWarn,
			Message:  fmt.Sprintf("%d searchable fields but no backend to tokenize with", searchable),
		})
		return
	}

	// One probe round trip proves the tokenization path end to end.
	answers, err := d.be.TokenizeExpressions(ctx, []querytree.TokenizeRequest{
		{Expression: "stillsuit doctor probe", Language: "en"},
	})
	if err != nil {
		report.AddCheck(CheckResult{
			Category: "Search",
			Name:     "tokenization",
			Status:   StatusFail,
			Message:  "tokenization probe failed",
			Details:  err.Error(),
		})
		return
	}
	if len(answers) != 1 || len(answers[0].Tokens) == 0 {
		report.AddCheck(CheckResult{
			Category: "Search",
			Name:     "tokenization",
			Status:   StatusFail,
			Message:  "tokenization probe returned no tokens",
		})
		return
	}
	report.AddCheck(CheckResult{
		Category: "Search",
		Name:     "tokenization",
		Status:   StatusPass,
		Message:  fmt.Sprintf("tokenization works (%d searchable fields)", searchable),
		Details:  fmt.Sprintf("probe tokens: %s", strings.Join(answers[0].Tokens, ", ")),
	})
}

func (d *Doctor) checkData(ctx context.Context, report *Report) {
	if d.mdl == nil || d.be == nil {
		return
	}
	src, ok := d.be.(eval.Source)
	if !ok {
		return
	}

	empty := 0
	var details []string
	for _, t := range d.mdl.Types {
		docs, err := src.Entities(ctx, t.Name)
		if err != nil {
			report.AddCheck(CheckResult{
				Category: "Data",
				Name:     "entities",
				Status:   StatusFail,
				Message:  fmt.Sprintf("could not scan %s entities", t.Name),
				Details:  err.Error(),
			})
			return
		}
		if len(docs) == 0 {
			empty++
		}
		details = append(details, fmt.Sprintf("%s: %d", t.Name, len(docs)))
	}

	status := StatusPass
	message := "all types hold data"
	if empty > 0 {
		status = StatusWarn
		message = fmt.Sprintf("%d of %d types hold no data", empty, len(d.mdl.Types))
	}
	report.AddCheck(CheckResult{
		Category: "Data",
		Name:     "entities",
		Status:   status,
		Message:  message,
		Details:  strings.Join(details, "\n"),
	})
}
