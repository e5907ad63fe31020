//go:build unix

package platform

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestDisableCoreDumps(t *testing.T) {
	require.NoError(t, DisableCoreDumps())

	var rlim unix.Rlimit
	require.NoError(t, unix.Getrlimit(unix.RLIMIT_CORE, &rlim))
	require.Zero(t, rlim.Cur)
	require.Zero(t, rlim.Max)
}
