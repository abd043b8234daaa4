package daemon

import (
	"context"
	"net"
	"os"
	"testing"

	"graphauth/go-backend/internal/bootstrap/graphconfig"
)

func assertCheck(t *testing.T, report DoctorReport, name string, pass bool) {
	t.Helper()
	for _, check := range report.Checks {
		if check.Name == name {
			if check.Pass != pass {
				t.Fatalf("check %s: expected pass=%v, got %+v", name, pass, check)
			}
			return
		}
	}
	t.Fatalf("check %s not found in %+v", name, report.Checks)
}

func TestDoctorPassesFreshInstall(t *testing.T) {
	cfg := testConfig(t)
	cfg.Graph.Backend = graphconfig.BackendMemory
	cfg.Metrics.Addr = "127.0.0.1:0"

	rt, err := Build(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer func() { _ = rt.Close() }()

	report := rt.Doctor(context.Background(), 0)
	if !report.Ready {
		t.Fatalf("expected ready report, got %+v", report.Checks)
	}
	assertCheck(t, report, "graph_reachable", true)
	assertCheck(t, report, "session_envelope", true)
}

func TestDoctorFlagsBusyMetricsAddrAndBrokenSession(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()

	cfg := testConfig(t)
	cfg.Graph.Backend = graphconfig.BackendMemory
	cfg.Metrics.Addr = ln.Addr().String()

	rt, err := Build(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer func() { _ = rt.Close() }()
	if err := os.WriteFile(cfg.SessionPath(), []byte("not an envelope"), 0o600); err != nil {
		t.Fatalf("write session: %v", err)
	}

	report := rt.Doctor(context.Background(), 0)
	if report.Ready {
		t.Fatal("expected report to be not ready")
	}
	assertCheck(t, report, "metrics_addr_available", false)
	assertCheck(t, report, "session_envelope", false)
	assertCheck(t, report, "data_dir_private", true)
}
