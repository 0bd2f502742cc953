package proc

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSamplerReadsSelf(t *testing.T) {
	s := NewSampler()

	st, err := s.Read(os.Getpid())
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), st.PID)
	require.Greater(t, st.Threads, 0)
	require.Greater(t, st.MemoryRSS, int64(0))
	require.Zero(t, st.CPUPercent)
	require.False(t, st.StartedAt.IsZero())
	require.True(t, st.StartedAt.Before(time.Now().Add(time.Second)))

	_, err = s.Read(os.Getpid())
	require.NoError(t, err)
}

func TestSamplerInvalidPID(t *testing.T) {
	s := NewSampler()
	_, err := s.Read(0)
	require.Error(t, err)

	all := s.ReadAll([]int{os.Getpid(), 1 << 30})
	require.Len(t, all, 1)
	require.Contains(t, all, os.Getpid())
}
