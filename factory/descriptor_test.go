package factory_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fieldservice-engine/engine"
	"github.com/warp/fieldservice-engine/factory"
	"github.com/warp/fieldservice-engine/reports"
)

func freshRegistry(t *testing.T) {
	t.Helper()
	reports.Register()
	t.Cleanup(reports.Register)
}

func lookup(t *testing.T, typ engine.ActivityType) engine.Descriptor {
	t.Helper()
	d, ok := engine.LookupReport(typ)
	require.True(t, ok, "report type %s not registered", typ)
	return d
}

func TestParseDescriptors_OverridesOnlyNamedFields(t *testing.T) {
	freshRegistry(t)
	f := factory.NewDescriptorFactory()

	// GIVEN: A policy that raises the photo minimum for A/S completions
	descs, err := f.ParseDescriptors(`{"reports": [{"type": "as_complete", "min_photos": 3}]}`)

	// THEN: Only that type is returned, other flags untouched
	require.NoError(t, err)
	require.Len(t, descs, 1)
	assert.Equal(t, 3, descs[0].MinPhotos)
	assert.True(t, descs[0].RequiresSettlement)
	assert.True(t, descs[0].DeleteRequiresPrivileged)
}

func TestParseDescriptors_TopLevelWindow(t *testing.T) {
	freshRegistry(t)
	f := factory.NewDescriptorFactory()

	descs, err := f.ParseDescriptors(`{"edit_window_days": 5, "reports": [{"type": "inquiry", "edit_window_days": 1}]}`)

	require.NoError(t, err)
	assert.Len(t, descs, len(reports.Defaults()))
	for _, d := range descs {
		if d.Type == engine.TypeInquiry {
			assert.Equal(t, 1, d.EditWindowDays)
		} else {
			assert.Equal(t, 5, d.EditWindowDays, d.Type)
		}
	}
}

func TestParseDescriptors_Rejects(t *testing.T) {
	freshRegistry(t)
	f := factory.NewDescriptorFactory()

	tests := []struct {
		name string
		json string
	}{
		{"malformed", `{"reports": [`},
		{"unknown type", `{"reports": [{"type": "teleport"}]}`},
		{"settling schedule", `{"reports": [{"type": "as_schedule", "requires_settlement": true}]}`},
		{"reserving completion", `{"reports": [{"type": "as_complete", "reserves_stock": true}]}`},
		{"unknown stage", `{"reports": [{"type": "inquiry", "stage": "sometimes"}]}`},
		{"negative photos", `{"reports": [{"type": "inquiry", "min_photos": -1}]}`},
		{"negative window", `{"edit_window_days": -2, "reports": []}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ParseDescriptors(tt.json)
			assert.Error(t, err)
		})
	}

	_, err := f.ParseDescriptors(`{"reports": [{"type": "teleport"}]}`)
	assert.ErrorIs(t, err, engine.ErrUnknownReportType)
}

func TestToJSON_RoundTrips(t *testing.T) {
	freshRegistry(t)
	f := factory.NewDescriptorFactory()
	want := lookup(t, engine.TypeInstallSchedule)

	got, err := f.FromJSON(f.ToJSON(want), engine.Descriptor{})

	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadFile_AppliesToRegistry(t *testing.T) {
	freshRegistry(t)
	f := factory.NewDescriptorFactory()
	path := filepath.Join(t.TempDir(), "policy.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"reports": [{"type": "remoteas_complete", "min_photos": 2}]}`), 0o600))

	_, err := f.LoadFile(path)

	require.NoError(t, err)
	assert.Equal(t, 2, lookup(t, engine.TypeRemoteASComplete).MinPhotos)

	_, err = f.LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestApplyEditWindow(t *testing.T) {
	freshRegistry(t)
	f := factory.NewDescriptorFactory()

	require.NoError(t, f.ApplyEditWindow(7))
	for _, d := range engine.ListReports() {
		assert.Equal(t, 7, d.EditWindowDays, d.Type)
	}
	assert.Error(t, f.ApplyEditWindow(-1))
}
