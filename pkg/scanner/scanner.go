// Package scanner orchestrates a scan: it parses the skill package,
// fans the enabled analyzers out over a bounded worker pool, merges
// and dedupes their findings, scores the result and assembles the
// Report. The final report is a deterministic function of the parsed
// skill, the rule library and the semantic analyzer's output;
// analyzer execution order never changes it.
package scanner

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/clawguard/clawguard/pkg/analyzer"
	"github.com/clawguard/clawguard/pkg/finding"
	"github.com/clawguard/clawguard/pkg/logger"
	"github.com/clawguard/clawguard/pkg/report"
	"github.com/clawguard/clawguard/pkg/rules"
	"github.com/clawguard/clawguard/pkg/scoring"
	"github.com/clawguard/clawguard/pkg/skill"
)

const defaultMaxWorkers = 8

// Config selects which analyzers run and how.
type Config struct {
	// RulesDir overrides the embedded rule files when non-empty.
	RulesDir string
	// Semantic configures the LLM analyzer; it is enabled only when
	// both EnableSemantic is set and an API key is present.
	EnableSemantic bool
	Semantic       analyzer.SemanticConfig
	// MaxWorkers caps analyzer concurrency; zero means
	// min(NumCPU, 8).
	MaxWorkers int
}

// Scanner is a reusable scan pipeline. The rule library is loaded once
// at construction and shared read-only with every scan.
type Scanner struct {
	library   *rules.Library
	analyzers []analyzer.Analyzer
	workers   int
}

// New loads the rule library and assembles the analyzer set. Rule
// load failure is fatal; a partially loaded library never runs.
func New(cfg Config) (*Scanner, error) {
	library, err := rules.Load(cfg.RulesDir)
	if err != nil {
		return nil, err
	}

	analyzers := []analyzer.Analyzer{
		analyzer.NewStaticAnalyzer(library),
		analyzer.NewPatternAnalyzer(library),
		analyzer.NewASTAnalyzer(),
	}
	if cfg.EnableSemantic {
		analyzers = append(analyzers, analyzer.NewSemanticAnalyzer(cfg.Semantic))
	}

	workers := cfg.MaxWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
		if workers > defaultMaxWorkers {
			workers = defaultMaxWorkers
		}
	}

	return &Scanner{library: library, analyzers: analyzers, workers: workers}, nil
}

// Library exposes the loaded rule library (read-only).
func (s *Scanner) Library() *rules.Library { return s.library }

// Scan parses the package at dir and runs the full pipeline.
func (s *Scanner) Scan(ctx context.Context, dir string) (report.Report, error) {
	sk, warnings, err := skill.Parse(dir)
	if err != nil {
		return report.Report{}, err
	}
	return s.Run(ctx, sk, warnings)
}

// analyzerResult carries one analyzer's outcome back to the
// coordinator.
type analyzerResult struct {
	findings []finding.Finding
	err      error
}

// Run executes every analyzer over an already-parsed skill. Parse
// warnings are folded into the finding set. Cancellation discards all
// partial work and returns the context error.
func (s *Scanner) Run(ctx context.Context, sk *skill.Skill, parseWarnings []finding.Finding) (report.Report, error) {
	tracer := otel.Tracer("clawguard/scanner")
	ctx, span := tracer.Start(ctx, "scan")
	defer span.End()
	span.SetAttributes(attribute.String("skill.name", sk.Name))

	start := time.Now()
	log := logger.G(ctx)

	results := make([]analyzerResult, len(s.analyzers))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < s.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results[idx] = s.runAnalyzer(ctx, tracer, s.analyzers[idx], sk)
			}
		}()
	}
	for idx := range s.analyzers {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		// Cancelled scans return nothing; partial findings would
		// masquerade as a clean bill of health.
		return report.Report{}, err
	}

	var findings []finding.Finding
	findings = append(findings, parseWarnings...)
	analyzersRun := make([]string, 0, len(s.analyzers))
	for idx, a := range s.analyzers {
		res := results[idx]
		switch {
		case res.err == nil:
			analyzersRun = append(analyzersRun, a.Name())
			findings = append(findings, res.findings...)
		case analyzer.IsSkipped(res.err):
			analyzersRun = append(analyzersRun, a.Name()+"-skipped")
		default:
			analyzersRun = append(analyzersRun, a.Name()+"-errored")
			log.WithError(res.err).WithField("analyzer", a.Name()).Error("analyzer failed")
			findings = append(findings, finding.Finding{
				Analyzer:       a.Name(),
				Category:       finding.CategoryBestPractices,
				Severity:       finding.SeverityLow,
				Title:          fmt.Sprintf("Analyzer %s failed", a.Name()),
				Detail:         fmt.Sprintf("The %s analyzer errored and its findings are missing from this report: %v.", a.Name(), res.err),
				Recommendation: "Re-run the scan; treat the report as incomplete until it succeeds.",
			})
		}
	}

	findings = dedupe(findings)
	sortFindings(findings)

	rep := report.Report{
		ScanID: uuid.NewString(),
		SkillRef: report.SkillRef{
			Name:        sk.Name,
			Description: sk.Description,
			Path:        sk.RootPath,
		},
		Score:          scoring.Compute(findings),
		Findings:       findings,
		AnalyzersRun:   analyzersRun,
		ScanDurationMS: time.Since(start).Milliseconds(),
		ScannedAt:      time.Now().UTC().Truncate(time.Second),
	}

	log.WithField("score", rep.Score.Value).
		WithField("recommendation", rep.Score.Recommendation).
		WithField("findings", len(findings)).
		Info("scan complete")
	span.SetAttributes(attribute.Int("scan.score", rep.Score.Value))
	return rep, nil
}

// runAnalyzer contains one analyzer run: panics and errors become
// result errors, cancellation passes through.
func (s *Scanner) runAnalyzer(ctx context.Context, tracer trace.Tracer, a analyzer.Analyzer, sk *skill.Skill) (res analyzerResult) {
	ctx, span := tracer.Start(ctx, "analyze."+a.Name())
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			res = analyzerResult{err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if err := ctx.Err(); err != nil {
		return analyzerResult{err: err}
	}
	findings, err := a.Analyze(ctx, sk)
	if err != nil {
		return analyzerResult{err: err}
	}
	return analyzerResult{findings: findings}
}

// dedupeKey identifies findings that describe the same observation.
type dedupeKey struct {
	analyzer string
	category finding.Category
	file     string
	line     int
	title    string
}

// dedupe keeps the highest-severity instance of each duplicate group,
// preserving first-seen order otherwise.
func dedupe(findings []finding.Finding) []finding.Finding {
	seen := make(map[dedupeKey]int, len(findings))
	out := make([]finding.Finding, 0, len(findings))
	for _, f := range findings {
		key := dedupeKey{f.Analyzer, f.Category, f.File, f.Line, f.Title}
		if idx, ok := seen[key]; ok {
			if f.Severity.Rank() > out[idx].Severity.Rank() {
				out[idx] = f
			}
			continue
		}
		seen[key] = len(out)
		out = append(out, f)
	}
	return out
}

// sortFindings imposes the report order: severity desc, category asc,
// file asc, line asc, with title and analyzer as final tie-breaks so
// the order is total.
func sortFindings(findings []finding.Finding) {
	categoryOrder := make(map[finding.Category]int, len(finding.Categories))
	for i, c := range finding.Categories {
		categoryOrder[c] = i
	}
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if a.Category != b.Category {
			return categoryOrder[a.Category] < categoryOrder[b.Category]
		}
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Title != b.Title {
			return a.Title < b.Title
		}
		return a.Analyzer < b.Analyzer
	})
}
