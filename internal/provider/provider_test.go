package provider

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// branchProbe implements just enough of Adapter for UniqueBranchName.
type branchProbe struct {
	Adapter
	existing map[string]bool
	probes   int
}

func (b *branchProbe) BranchExists(ctx context.Context, branch string) (bool, error) {
	b.probes++
	return b.existing[branch], nil
}

func TestUniqueBranchName(t *testing.T) {
	probe := &branchProbe{existing: map[string]bool{}}

	name, err := UniqueBranchName(t.Context(), probe, "patchpilot/fix-issue-5")
	require.NoError(t, err)
	assert.Equal(t, "patchpilot/fix-issue-5", name)
}

func TestUniqueBranchNameProbesSuffixes(t *testing.T) {
	probe := &branchProbe{existing: map[string]bool{
		"patchpilot/fix-issue-5":      true,
		"patchpilot/fix-issue-5-try2": true,
	}}

	name, err := UniqueBranchName(t.Context(), probe, "patchpilot/fix-issue-5")
	require.NoError(t, err)
	assert.Equal(t, "patchpilot/fix-issue-5-try3", name)
	assert.Equal(t, 3, probe.probes)
}

func TestUniqueBranchNameGivesUp(t *testing.T) {
	probe := &branchProbe{existing: map[string]bool{"base": true}}
	for i := 2; i <= 200; i++ {
		probe.existing["base-try"+strconv.Itoa(i)] = true
	}

	_, err := UniqueBranchName(t.Context(), probe, "base")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no free branch name")
}
