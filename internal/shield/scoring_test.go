package shield

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/models"
)

func findingsWithSeverities(sevs ...string) []models.ShieldFinding {
	out := make([]models.ShieldFinding, len(sevs))
	for i, s := range sevs {
		out[i] = models.ShieldFinding{Module: ModuleTLS, Severity: s, Title: "t"}
	}
	return out
}

func TestScoreModuleDeductions(t *testing.T) {
	tests := []struct {
		name  string
		sevs  []string
		score float64
	}{
		{"clean module scores 100", nil, 100},
		{"critical costs 25", []string{models.SeverityCritical}, 75},
		{"high costs 15", []string{models.SeverityHigh}, 85},
		{"medium costs 8", []string{models.SeverityMedium}, 92},
		{"low costs 3", []string{models.SeverityLow}, 97},
		{"info is free", []string{models.SeverityInfo}, 100},
		{"mixed deductions stack", []string{models.SeverityCritical, models.SeverityHigh, models.SeverityLow}, 57},
		{"score floors at zero", []string{
			models.SeverityCritical, models.SeverityCritical, models.SeverityCritical,
			models.SeverityCritical, models.SeverityCritical,
		}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ms := ScoreModule(ModuleTLS, 20, findingsWithSeverities(tt.sevs...))
			assert.Equal(t, tt.score, ms.Score)
		})
	}
}

func TestScoreModuleCheckCounters(t *testing.T) {
	ms := ScoreModule(ModuleTLS, 20, findingsWithSeverities(
		models.SeverityCritical, models.SeverityHigh, models.SeverityMedium, models.SeverityInfo))

	assert.Equal(t, 2, ms.FailedChecks, "critical and high fail")
	assert.Equal(t, 1, ms.WarningChecks, "medium warns")
	assert.Equal(t, 8, ms.TotalChecks, "tls probe count")
	assert.Equal(t, 5, ms.PassedChecks)

	t.Run("total never drops below findings", func(t *testing.T) {
		noisy := ScoreModule(ModuleCVE, 25, findingsWithSeverities(
			models.SeverityHigh, models.SeverityHigh, models.SeverityHigh,
			models.SeverityHigh, models.SeverityHigh))
		assert.Equal(t, 5, noisy.TotalChecks)
		assert.Equal(t, 0, noisy.PassedChecks)
	})
}

func TestCompositeRenormalizes(t *testing.T) {
	scores := map[string]models.ModuleScore{
		ModuleTLS:   {Module: ModuleTLS, Score: 100, Weight: 20},
		ModulePorts: {Module: ModulePorts, Score: 80, Weight: 20},
	}
	score, grade := Composite(scores)
	assert.Equal(t, 90.0, score, "weighted mean over present modules only")
	assert.Equal(t, "A", grade)
}

func TestCompositeUnevenWeights(t *testing.T) {
	scores := map[string]models.ModuleScore{
		ModuleCVE: {Module: ModuleCVE, Score: 60, Weight: 25},
		ModuleDNS: {Module: ModuleDNS, Score: 100, Weight: 10},
	}
	score, _ := Composite(scores)
	// (60*25 + 100*10) / 35
	assert.InDelta(t, 71.43, score, 0.001)
}

func TestCompositeEmpty(t *testing.T) {
	score, grade := Composite(nil)
	assert.Equal(t, 0.0, score, "nothing assessed means nothing earned")
	assert.Equal(t, "F", grade)
}

func TestGradeBoundaries(t *testing.T) {
	tests := []struct {
		score float64
		grade string
	}{
		{100, "A+"},
		{95, "A+"},
		{94.99, "A"},
		{90, "A"},
		{89.99, "B+"},
		{85, "B+"},
		{84.99, "B"},
		{75, "B"},
		{74.99, "C+"},
		{70, "C+"},
		{69.99, "C"},
		{60, "C"},
		{59.99, "D"},
		{40, "D"},
		{39.99, "F"},
		{0, "F"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.grade, GradeFor(tt.score), "score %.2f", tt.score)
	}
}
