package shield

import (
	"math"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/models"
)

// Per-finding deductions from a module's 100-point base.
const (
	deductCritical = 25
	deductHigh     = 15
	deductMedium   = 8
	deductLow      = 3
)

// probeCounts is the nominal number of checks each module performs. A
// module's total never drops below its non-info finding count, so passed
// checks cannot go negative even on a very noisy target.
var probeCounts = map[string]int{
	ModuleTLS:     8,
	ModulePorts:   3,
	ModuleCVE:     2,
	ModuleHeaders: 8,
	ModuleDNS:     5,
	ModuleCreds:   4,
	ModuleOWASP:   5,
}

func severityDeduction(sev string) float64 {
	switch sev {
	case models.SeverityCritical:
		return deductCritical
	case models.SeverityHigh:
		return deductHigh
	case models.SeverityMedium:
		return deductMedium
	case models.SeverityLow:
		return deductLow
	default:
		return 0
	}
}

// ScoreModule folds one module's findings into its score row. The score
// starts at 100, loses points per finding by severity, and floors at 0.
// Critical and high findings count as failed checks, medium and low as
// warnings; info findings deduct nothing and consume no check.
func ScoreModule(name string, weight int, findings []models.ShieldFinding) models.ModuleScore {
	ms := models.ModuleScore{Module: name, Weight: weight}

	score := 100.0
	for _, f := range findings {
		score -= severityDeduction(f.Severity)
		switch f.Severity {
		case models.SeverityCritical, models.SeverityHigh:
			ms.FailedChecks++
		case models.SeverityMedium, models.SeverityLow:
			ms.WarningChecks++
		}
	}
	if score < 0 {
		score = 0
	}
	ms.Score = round2(score)

	ms.TotalChecks = probeCounts[name]
	if ms.TotalChecks < ms.FailedChecks+ms.WarningChecks {
		ms.TotalChecks = ms.FailedChecks + ms.WarningChecks
	}
	if ms.TotalChecks == 0 {
		ms.TotalChecks = 1
	}
	ms.PassedChecks = ms.TotalChecks - ms.FailedChecks - ms.WarningChecks
	return ms
}

// Composite computes the weighted mean over the modules that actually
// ran, re-normalizing so skipped modules don't drag the score down. No
// modules means nothing was assessed: score 0, grade F.
func Composite(scores map[string]models.ModuleScore) (float64, string) {
	var weighted, totalWeight float64
	for _, ms := range scores {
		weighted += ms.Score * float64(ms.Weight)
		totalWeight += float64(ms.Weight)
	}
	if totalWeight == 0 {
		return 0, GradeFor(0)
	}
	score := round2(weighted / totalWeight)
	return score, GradeFor(score)
}

// GradeFor maps a composite score to its letter grade.
func GradeFor(score float64) string {
	switch {
	case score >= 95:
		return "A+"
	case score >= 90:
		return "A"
	case score >= 85:
		return "B+"
	case score >= 75:
		return "B"
	case score >= 70:
		return "C+"
	case score >= 60:
		return "C"
	case score >= 40:
		return "D"
	default:
		return "F"
	}
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
