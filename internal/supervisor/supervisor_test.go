package supervisor

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedTimeouts() func(time.Duration) time.Duration {
	return func(base time.Duration) time.Duration { return base }
}

func TestEnsureWorker_AlreadyHealthyMatchingVersion_NeverSpawns(t *testing.T) {
	spawned := false
	wroteFile := false

	deps := Deps{
		Healthy:            func(int, time.Duration) bool { return true },
		CheckVersionMatch:  func(int) bool { return true },
		GetPlatformTimeout: fixedTimeouts(),
		SpawnDaemon:        func(string, int) (int, error) { spawned = true; return 0, nil },
		WritePidFile:       func(PidInfo) error { wroteFile = true; return nil },
	}

	result := EnsureWorker(deps, "worker.sh", 41777)

	assert.True(t, result.Ready)
	assert.NoError(t, result.Err)
	assert.False(t, spawned, "spawnDaemon must not be invoked against an already-healthy matching-version daemon")
	assert.False(t, wroteFile, "writePidFile must not be invoked against an already-healthy matching-version daemon")
}

func TestEnsureWorker_VersionMismatch_ShutsDownAndColdStarts(t *testing.T) {
	var callOrder []string
	healthyCallCount := 0

	deps := Deps{
		Healthy: func(int, time.Duration) bool {
			healthyCallCount++
			// First probe (pre-restart): healthy but mismatched.
			// Second probe (post cold-start): healthy.
			return true
		},
		CheckVersionMatch: func(int) bool { return healthyCallCount == 1 && false || healthyCallCount > 1 },
		HTTPShutdown: func(int) error {
			callOrder = append(callOrder, "shutdown")
			return nil
		},
		WaitPortFree: func(int, time.Duration) bool {
			callOrder = append(callOrder, "waitPortFree")
			return true
		},
		RemovePidFile: func() error {
			callOrder = append(callOrder, "removePidFile")
			return nil
		},
		PortInUse: func(int) bool { return false },
		SpawnDaemon: func(string, int) (int, error) {
			callOrder = append(callOrder, "spawn")
			return 4242, nil
		},
		WritePidFile: func(PidInfo) error {
			callOrder = append(callOrder, "writePidFile")
			return nil
		},
		GetPlatformTimeout: fixedTimeouts(),
		Now:                func() time.Time { return time.Unix(0, 0) },
	}

	// CheckVersionMatch above always reports mismatch on the pre-restart
	// check (healthyCallCount==1) and match thereafter, so cold start's own
	// post-spawn Healthy call reports ready without re-entering the version
	// check (ensureWorker never calls CheckVersionMatch again after a
	// cold start).
	result := EnsureWorker(deps, "worker.sh", 41777)

	require.True(t, result.Ready)
	require.NoError(t, result.Err)
	assert.Equal(t, []string{"shutdown", "waitPortFree", "removePidFile", "spawn", "writePidFile"}, callOrder)
}

func TestEnsureWorker_PortInUseButUnresponsive_Fails(t *testing.T) {
	deps := Deps{
		Healthy:            func(int, time.Duration) bool { return false },
		PortInUse:          func(int) bool { return true },
		GetPlatformTimeout: fixedTimeouts(),
	}

	result := EnsureWorker(deps, "worker.sh", 41777)

	assert.False(t, result.Ready)
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "port in use but worker not responding")
}

func TestEnsureWorker_ColdStartSpawnFails(t *testing.T) {
	deps := Deps{
		Healthy:            func(int, time.Duration) bool { return false },
		PortInUse:          func(int) bool { return false },
		GetPlatformTimeout: fixedTimeouts(),
		SpawnDaemon: func(string, int) (int, error) {
			return 0, errors.New("exec: file not found")
		},
	}

	result := EnsureWorker(deps, "worker.sh", 41777)

	assert.False(t, result.Ready)
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "failed to spawn")
}

func TestEnsureWorker_ColdStartHealthTimeout_RemovesPidFile(t *testing.T) {
	pidFileRemoved := false

	deps := Deps{
		Healthy:            func(int, time.Duration) bool { return false },
		PortInUse:          func(int) bool { return false },
		GetPlatformTimeout: fixedTimeouts(),
		SpawnDaemon:        func(string, int) (int, error) { return 777, nil },
		WritePidFile:       func(PidInfo) error { return nil },
		RemovePidFile:      func() error { pidFileRemoved = true; return nil },
		Now:                func() time.Time { return time.Unix(0, 0) },
	}

	result := EnsureWorker(deps, "worker.sh", 41777)

	assert.False(t, result.Ready)
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "health check timeout")
	assert.True(t, pidFileRemoved)
}

func TestEnsureWorker_ColdStartWritesPidFileWithSpawnedPID(t *testing.T) {
	var written PidInfo

	deps := Deps{
		Healthy:            func(int, time.Duration) bool { return false },
		PortInUse:          func(int) bool { return false },
		GetPlatformTimeout: fixedTimeouts(),
		SpawnDaemon:        func(string, int) (int, error) { return 999, nil },
		WritePidFile: func(info PidInfo) error {
			written = info
			return nil
		},
		RemovePidFile: func() error { return nil },
	}

	// Health never returns true post-spawn in this fixture, so the result
	// is a timeout error, but the pid file write is still asserted.
	_ = EnsureWorker(deps, "worker.sh", 55555)

	assert.Equal(t, 999, written.PID)
	assert.Equal(t, 55555, written.Port)
}
