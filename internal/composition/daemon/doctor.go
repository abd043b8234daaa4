package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
	"time"

	"graphauth/go-backend/internal/domains/identity/sessioncodec"
)

const doctorProbePath = "~@graphauth-doctor"

type DoctorCheck struct {
	Name   string `json:"name"`
	Pass   bool   `json:"pass"`
	Reason string `json:"reason,omitempty"`
}

type DoctorReport struct {
	Ready     bool          `json:"ready"`
	Checks    []DoctorCheck `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Doctor inspects the local installation: data dir permissions, graph
// reachability, the persisted session and the metrics listen address.
// An envelope that fails to open is discarded, as a restore would.
func (r *Runtime) Doctor(ctx context.Context, probeTimeout time.Duration) DoctorReport {
	if probeTimeout <= 0 {
		probeTimeout = 2 * time.Second
	}
	report := DoctorReport{
		Ready:     true,
		Checks:    make([]DoctorCheck, 0, 6),
		CheckedAt: time.Now().UTC(),
	}
	appendCheck := func(name string, pass bool, reason string) {
		report.Checks = append(report.Checks, DoctorCheck{Name: name, Pass: pass, Reason: reason})
		if !pass {
			report.Ready = false
		}
	}

	if err := checkPrivateDir(r.Config.DataDir); err != nil {
		appendCheck("data_dir_private", false, err.Error())
	} else {
		appendCheck("data_dir_private", true, "")
	}

	peers, err := r.Config.PeerAddrs()
	appendCheck("graph_peers_valid", err == nil, errReason(err))
	if err == nil && len(peers) > 0 {
		r.logger().Debug("configured graph peers", "count", len(peers))
	}

	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	_, _, err = r.Client.Read(pctx, doctorProbePath)
	cancel()
	appendCheck("graph_reachable", err == nil, errReason(err))

	switch _, err := r.Sessions.Load(); {
	case err == nil:
		appendCheck("session_envelope", true, "")
	case errors.Is(err, sessioncodec.ErrNoSession):
		appendCheck("session_envelope", true, "no persisted session")
	default:
		appendCheck("session_envelope", false, err.Error())
	}

	if err := checkAddrAvailable(r.Config.Metrics.Addr); err != nil {
		appendCheck("metrics_addr_available", false, err.Error())
	} else {
		appendCheck("metrics_addr_available", true, "")
	}
	return report
}

func errReason(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func checkPrivateDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	if runtime.GOOS == "windows" {
		return nil
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return fmt.Errorf("%s is accessible by other users (%04o)", dir, perm)
	}
	return nil
}

func checkAddrAvailable(addr string) error {
	if addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("address %s is unavailable: %w", addr, err)
	}
	_ = ln.Close()
	return nil
}
