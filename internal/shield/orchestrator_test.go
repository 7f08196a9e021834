package shield

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/events"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/models"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open("sqlite:///:memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.EnsureSchema(context.Background()))
	return s
}

type recordingBus struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	Type    string
	Subject string
	Data    map[string]any
}

func (b *recordingBus) Emit(eventType, subject string, data map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, recordedEvent{Type: eventType, Subject: subject, Data: data})
}

func (b *recordingBus) byType(eventType string) []recordedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []recordedEvent
	for _, e := range b.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func TestCreateScanValidation(t *testing.T) {
	reg := NewRegistry()
	o := NewOrchestrator(reg, newTestStore(t), nil, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  CreateScanRequest
	}{
		{"empty target", CreateScanRequest{Target: ""}},
		{"whitespace only", CreateScanRequest{Target: "   "}},
		{"embedded whitespace", CreateScanRequest{Target: "bad host"}},
		{"bad cidr", CreateScanRequest{Target: "10.0.0.0/99"}},
		{"unknown depth", CreateScanRequest{Target: "example.com", Depth: "extreme"}},
		{"unknown sensitivity", CreateScanRequest{Target: "example.com", Sensitivity: "paranoid"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.CreateScan(ctx, &tt.req)
			assert.ErrorIs(t, err, ErrInvalidScan)
		})
	}
}

func TestCreateScanTargetTypes(t *testing.T) {
	reg := NewRegistry()
	o := NewOrchestrator(reg, newTestStore(t), nil, nil)
	ctx := context.Background()

	tests := []struct {
		target string
		want   string
	}{
		{"192.168.1.10", models.TargetIP},
		{"10.0.0.0/24", models.TargetCIDR},
		{"example.com", models.TargetDomain},
		{"host-01.internal", models.TargetDomain},
	}
	for _, tt := range tests {
		sc, err := o.CreateScan(ctx, &CreateScanRequest{Target: tt.target})
		require.NoError(t, err, tt.target)
		assert.Equal(t, tt.want, sc.TargetType, tt.target)
	}
}

func TestCreateScanDefaults(t *testing.T) {
	reg := NewRegistry()
	o := NewOrchestrator(reg, newTestStore(t), nil, nil)
	ctx := context.Background()

	sc, err := o.CreateScan(ctx, &CreateScanRequest{Target: "example.com"})
	require.NoError(t, err)
	assert.Equal(t, models.DepthStandard, sc.Depth)
	assert.ElementsMatch(t, []string{ModuleTLS, ModulePorts, ModuleHeaders, ModuleDNS}, sc.ModulesEnabled)
	assert.Equal(t, models.ShieldQueued, sc.Status)
	assert.Regexp(t, `^sh_[0-9a-f]{8}$`, sc.ID)

	t.Run("explicit modules filtered by sensitivity", func(t *testing.T) {
		sc, err := o.CreateScan(ctx, &CreateScanRequest{
			Target:      "example.com",
			Depth:       models.DepthDeep,
			Sensitivity: models.SensitivityFragile,
			Modules:     []string{ModuleTLS, ModuleCreds, ModuleDNS},
		})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{ModuleTLS, ModuleDNS}, sc.ModulesEnabled)
	})
}

func TestRunScanCleanTarget(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubModule{name: ModuleTLS, weight: 20, available: true}))

	st := newTestStore(t)
	bus := &recordingBus{}
	o := NewOrchestrator(reg, st, bus, nil)
	ctx := context.Background()

	sc, err := o.CreateScan(ctx, &CreateScanRequest{Target: "example.com", Depth: models.DepthQuick})
	require.NoError(t, err)
	require.NoError(t, o.RunScan(ctx, sc.ID))

	got, err := st.ShieldScanByID(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ShieldCompleted, got.Status)
	assert.Equal(t, 100.0, got.ShieldScore)
	assert.Equal(t, "A+", got.Grade)
	assert.Empty(t, got.Findings)
	require.Contains(t, got.ModuleScores, ModuleTLS)
	assert.Equal(t, 100.0, got.ModuleScores[ModuleTLS].Score)
	assert.Equal(t, 8, got.TotalChecks)
	assert.Equal(t, 8, got.PassedChecks)
	assert.Equal(t, 0, got.FailedChecks)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)

	done := bus.byType(events.TypeShieldCompleted)
	require.Len(t, done, 1)
	assert.Equal(t, sc.ID, done[0].Subject)
	assert.Equal(t, "A+", done[0].Data["grade"])
}

func TestRunScanWithFindings(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubModule{
		name: ModuleTLS, weight: 20, available: true,
		findings: []models.ShieldFinding{
			{Severity: models.SeverityCritical, Title: "Certificate Expired"},
			{Severity: models.SeverityMedium, Title: "Certificate Expiring Soon"},
		},
	}))
	require.NoError(t, reg.Register(&stubModule{name: ModulePorts, weight: 20, available: true}))

	st := newTestStore(t)
	o := NewOrchestrator(reg, st, nil, nil)
	ctx := context.Background()

	sc, err := o.CreateScan(ctx, &CreateScanRequest{
		Target:  "192.168.1.10",
		Modules: []string{ModuleTLS, ModulePorts},
	})
	require.NoError(t, err)
	require.NoError(t, o.RunScan(ctx, sc.ID))

	got, err := st.ShieldScanByID(ctx, sc.ID)
	require.NoError(t, err)

	// tls: 100-25-8 = 67, ports: 100 -> (67*20+100*20)/40 = 83.5
	assert.Equal(t, 83.5, got.ShieldScore)
	assert.Equal(t, "B", got.Grade)
	require.Len(t, got.Findings, 2)
	for _, f := range got.Findings {
		assert.Equal(t, sc.ID, f.ScanID)
		assert.Equal(t, ModuleTLS, f.Module)
		assert.False(t, f.DetectedAt.IsZero())
	}

	// Scan counters are the sum over module counters.
	wantTotal, wantPassed, wantFailed, wantWarn := 0, 0, 0, 0
	for _, ms := range got.ModuleScores {
		wantTotal += ms.TotalChecks
		wantPassed += ms.PassedChecks
		wantFailed += ms.FailedChecks
		wantWarn += ms.WarningChecks
	}
	assert.Equal(t, wantTotal, got.TotalChecks)
	assert.Equal(t, wantPassed, got.PassedChecks)
	assert.Equal(t, wantFailed, got.FailedChecks)
	assert.Equal(t, wantWarn, got.WarningChecks)
	assert.Equal(t, 1, got.FailedChecks)
	assert.Equal(t, 1, got.WarningChecks)
}

func TestRunScanSurvivesModulePanic(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubModule{name: ModuleTLS, weight: 20, available: true, panics: true}))
	require.NoError(t, reg.Register(&stubModule{
		name: ModulePorts, weight: 20, available: true,
		findings: []models.ShieldFinding{{Severity: models.SeverityHigh, Title: "Dangerous Port Open"}},
	}))

	st := newTestStore(t)
	o := NewOrchestrator(reg, st, nil, nil)
	ctx := context.Background()

	sc, err := o.CreateScan(ctx, &CreateScanRequest{
		Target:  "example.com",
		Modules: []string{ModuleTLS, ModulePorts},
	})
	require.NoError(t, err)
	require.NoError(t, o.RunScan(ctx, sc.ID))

	got, err := st.ShieldScanByID(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ShieldCompleted, got.Status)

	// The panicked module contributes no findings and a clean score.
	require.Contains(t, got.ModuleScores, ModuleTLS)
	assert.Equal(t, 100.0, got.ModuleScores[ModuleTLS].Score)
	require.Contains(t, got.ModuleScores, ModulePorts)
	assert.Equal(t, 85.0, got.ModuleScores[ModulePorts].Score)
	require.Len(t, got.Findings, 1)
	assert.Equal(t, ModulePorts, got.Findings[0].Module)
}

func TestRunScanUnavailableModule(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubModule{name: ModulePorts, weight: 20, available: false}))
	require.NoError(t, reg.Register(&stubModule{name: ModuleTLS, weight: 20, available: true}))

	st := newTestStore(t)
	o := NewOrchestrator(reg, st, nil, nil)
	ctx := context.Background()

	sc, err := o.CreateScan(ctx, &CreateScanRequest{
		Target:  "example.com",
		Modules: []string{ModuleTLS, ModulePorts},
	})
	require.NoError(t, err)
	require.NoError(t, o.RunScan(ctx, sc.ID))

	got, err := st.ShieldScanByID(ctx, sc.ID)
	require.NoError(t, err)

	// One informational finding marks the skip; no score is recorded, so
	// the composite rests on the modules that ran.
	require.Len(t, got.Findings, 1)
	assert.Equal(t, models.SeverityInfo, got.Findings[0].Severity)
	assert.Equal(t, "Module Unavailable", got.Findings[0].Title)
	assert.Equal(t, ModulePorts, got.Findings[0].Module)
	assert.NotContains(t, got.ModuleScores, ModulePorts)
	assert.Equal(t, 100.0, got.ShieldScore)
}

func TestRunScanUnknownModuleSkipped(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubModule{name: ModuleTLS, weight: 20, available: true}))

	res := RunModules(context.Background(), reg, "example.com", 0, []string{ModuleTLS, "bogus"}, nil)
	assert.Equal(t, []string{ModuleTLS}, res.ModulesRun)
	assert.NotContains(t, res.ModuleScores, "bogus")
}

func TestRunScanRejectsDoubleRun(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubModule{name: ModuleTLS, weight: 20, available: true}))

	st := newTestStore(t)
	o := NewOrchestrator(reg, st, nil, nil)
	ctx := context.Background()

	sc, err := o.CreateScan(ctx, &CreateScanRequest{Target: "example.com", Depth: models.DepthQuick})
	require.NoError(t, err)
	require.NoError(t, o.RunScan(ctx, sc.ID))

	err = o.RunScan(ctx, sc.ID)
	assert.ErrorIs(t, err, store.ErrBadTransition)
}

func TestRunScanUnknownID(t *testing.T) {
	o := NewOrchestrator(NewRegistry(), newTestStore(t), nil, nil)
	err := o.RunScan(context.Background(), "sh_deadbeef")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
