package supervisor

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// PidFilePath returns the well-known pid file location under dataDir.
func PidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "memoryd.pid")
}

// HTTPHealthy probes GET /api/health over loopback. This is the production
// Healthy implementation: it matches the liveness probe documented in
// spec.md's external interface.
func HTTPHealthy(port int, timeout time.Duration) bool {
	client := http.Client{Timeout: timeout}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/api/health", port))
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// GRPCHealthy probes the grpc_health_v1.Health service cmux-muxed onto the
// same port. Available as an alternative to HTTPHealthy for a caller that
// would rather not pull in net/http, per spec.md §4.9's design note.
func GRPCHealthy(port int, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conn, err := grpc.NewClient(
		fmt.Sprintf("127.0.0.1:%d", port),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return false
	}
	defer conn.Close()

	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		return false
	}
	return resp.Status == grpc_health_v1.HealthCheckResponse_SERVING
}

// HTTPCheckVersionMatch compares the running daemon's reported version
// against this binary's own, via GET /api/version.
func HTTPCheckVersionMatch(ownVersion string) func(port int) bool {
	return func(port int) bool {
		client := http.Client{Timeout: 2 * time.Second}
		resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/api/version", port))
		if err != nil {
			return false
		}
		defer resp.Body.Close()

		var body struct {
			Version string `json:"version"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return false
		}
		return body.Version == ownVersion
	}
}

// HTTPShutdown asks a running daemon to exit via POST /api/restart.
func HTTPShutdown(port int) error {
	client := http.Client{Timeout: 2 * time.Second}
	resp, err := client.Post(fmt.Sprintf("http://127.0.0.1:%d/api/restart", port), "application/json", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// PortInUse reports whether something is already listening on port.
func PortInUse(port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 500*time.Millisecond)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// WaitPortFree polls PortInUse until it reports false or timeout elapses.
func WaitPortFree(port int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !PortInUse(port) {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return !PortInUse(port)
}

// SpawnDaemon launches a fresh memoryd process bound to port, running it
// detached from the current process group so it outlives the launcher.
func SpawnDaemon(script string, port int) (int, error) {
	cmd := exec.Command(script) //nolint:gosec // script is operator-controlled, not user input
	cmd.Env = append(os.Environ(), "WORKER_PORT="+strconv.Itoa(port))
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = detachedProcAttr()

	if err := cmd.Start(); err != nil {
		return 0, err
	}
	return cmd.Process.Pid, nil
}

// WritePidFile persists info as JSON at PidFilePath(dataDir).
func WritePidFile(dataDir string) func(info PidInfo) error {
	return func(info PidInfo) error {
		data, err := json.Marshal(info)
		if err != nil {
			return err
		}
		return os.WriteFile(PidFilePath(dataDir), data, 0o644)
	}
}

// RemovePidFile deletes the pid file, tolerating it already being absent.
func RemovePidFile(dataDir string) func() error {
	return func() error {
		err := os.Remove(PidFilePath(dataDir))
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
}

// PlatformTimeout scales base for slower platforms (CI runners, emulated
// architectures under QEMU) where a cold start takes measurably longer.
func PlatformTimeout(base time.Duration) time.Duration {
	if runtime.GOARCH == "arm64" && runtime.GOOS != "darwin" {
		return base * 2
	}
	return base
}
