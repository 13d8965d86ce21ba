package sim

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClock_EqualPeriodsFireAllDomainsEveryTick(t *testing.T) {
	cfg := Config{CPUFreq: 1, MCFreq: 1, GMMUFreq: 1, GPUFreq: 1}
	c := NewClock(cfg)

	for i := 0; i < 3; i++ {
		f := c.Advance()
		require.True(t, f.CPU)
		require.True(t, f.MC)
		require.True(t, f.GMMU)
		require.True(t, f.GPU)
	}
	require.Equal(t, int64(3), c.GPUCycle)
}

func TestClock_SlowerDomainFiresLessOften(t *testing.T) {
	cfg := Config{CPUFreq: 1, MCFreq: 1, GMMUFreq: 1, GPUFreq: 3}
	c := NewClock(cfg)

	f1 := c.Advance()
	require.True(t, f1.CPU)
	require.True(t, f1.GPU)
	require.Equal(t, int64(1), c.GPUCycle)

	f2 := c.Advance()
	require.True(t, f2.CPU)
	require.False(t, f2.GPU)
	require.Equal(t, int64(1), c.GPUCycle)

	f3 := c.Advance()
	require.True(t, f3.CPU)
	require.False(t, f3.GPU)

	f4 := c.Advance()
	require.True(t, f4.CPU)
	require.True(t, f4.GPU)
	require.Equal(t, int64(2), c.GPUCycle)
}

func TestClock_ZeroOrNegativePeriodClampsToOne(t *testing.T) {
	cfg := Config{CPUFreq: 0, MCFreq: -5, GMMUFreq: 1, GPUFreq: 1}
	c := NewClock(cfg)
	require.Equal(t, int64(1), c.periodCPU)
	require.Equal(t, int64(1), c.periodMC)
}
