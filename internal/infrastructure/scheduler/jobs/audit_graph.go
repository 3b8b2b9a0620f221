package jobs

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/codekids/codekids-hub/internal/domain/dependency"
	"github.com/codekids/codekids-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// AUDIT GRAPH JOB
// ══════════════════════════════════════════════════════════════════════════════

// AuditGraphJob scans the prerequisite graph for cycles. Authoring rejects
// edges that close a cycle, so a finding here means rows were written around
// the API, and the gated lessons can never unlock.
type AuditGraphJob struct {
	deps dependency.Repository
	log  *logger.Logger

	lastReport atomic.Pointer[AuditReport]
}

// AuditReport is the outcome of one audit.
type AuditReport struct {
	CheckedAt time.Time
	Edges     int
	Cycles    [][]dependency.Subject
}

// NewAuditGraphJob creates the audit job.
func NewAuditGraphJob(deps dependency.Repository, log *logger.Logger) *AuditGraphJob {
	if log == nil {
		log = logger.Nop()
	}
	return &AuditGraphJob{deps: deps, log: log}
}

// Name returns the job name.
func (j *AuditGraphJob) Name() string {
	return "audit_dependency_graph"
}

// Description returns a human-readable description.
func (j *AuditGraphJob) Description() string {
	return "Reports cycles among lesson and course prerequisites"
}

// Run executes the audit. It fails when any cycle is found.
func (j *AuditGraphJob) Run(ctx context.Context) error {
	all, err := j.deps.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("audit_dependency_graph: %w", err)
	}

	report := &AuditReport{
		CheckedAt: time.Now().UTC(),
		Edges:     len(all),
		Cycles:    dependency.NewGraph(all).FindCycles(),
	}
	j.lastReport.Store(report)

	if len(report.Cycles) == 0 {
		j.log.Info("dependency graph is acyclic", logger.Int("edges", report.Edges))
		return nil
	}
	for _, c := range report.Cycles {
		j.log.Error("dependency cycle found", logger.String("cycle", FormatCycle(c)))
	}
	return fmt.Errorf("audit_dependency_graph: %d cycle(s) found", len(report.Cycles))
}

// LastReport returns the most recent report, or nil.
func (j *AuditGraphJob) LastReport() *AuditReport {
	return j.lastReport.Load()
}

// FormatCycle renders a closed path as "lesson:a -> lesson:b -> lesson:a".
func FormatCycle(c []dependency.Subject) string {
	parts := make([]string, len(c))
	for i, s := range c {
		parts[i] = s.String()
	}
	return strings.Join(parts, " -> ")
}
