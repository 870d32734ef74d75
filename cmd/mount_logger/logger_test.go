package main

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/w1xm/mount_interface/mount"
)

func TestStatusFields(t *testing.T) {
	data, err := json.Marshal(mount.Status{
		Connected:    true,
		State:        mount.Tracking,
		Current:      mount.EquatorialCoord{RA: 4, Dec: 45},
		Pier:         mount.PierWest,
		Capabilities: mount.Capabilities{Family: mount.FamilyPMC, Board: "06B9T9"},
	})
	require.NoError(t, err)
	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &status))

	tags, fields, ok := statusFields(status)
	require.True(t, ok)
	if diff := cmp.Diff(map[string]string{"family": "PMC"}, tags); diff != "" {
		t.Errorf("tags: (-want +got):\n%s", diff)
	}
	for k, want := range map[string]interface{}{
		"state":               "TRACKING",
		"connected":           true,
		"current.ra":          4.0,
		"current.dec":         45.0,
		"pier":                "WEST",
		"capabilities.board":  "06B9T9",
		"capabilities.family": "PMC",
	} {
		require.Equal(t, want, fields[k], k)
	}
	_, hasHorizontal := fields["horizontal.az"]
	require.False(t, hasHorizontal)
}

func TestStatusFieldsSkipsResults(t *testing.T) {
	_, _, ok := statusFields(map[string]interface{}{"error": "invalid state"})
	require.False(t, ok)
}

func TestFlattenStatus(t *testing.T) {
	fields := make(map[string]interface{})
	flattenStatus(fields, map[string]interface{}{
		"a": []interface{}{1.0, map[string]interface{}{"b": "c"}},
	}, "")
	if diff := cmp.Diff(map[string]interface{}{"a.0": 1.0, "a.1.b": "c"}, fields); diff != "" {
		t.Errorf("flattenStatus: (-want +got):\n%s", diff)
	}
}
