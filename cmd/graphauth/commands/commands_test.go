package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"graphauth/go-backend/pkg/models"
)

type harness struct {
	t       *testing.T
	dataDir string
	config  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv("GRAPHAUTH_DEVICE_SECRET", "cli-test-device-secret")
	t.Setenv("GRAPHAUTH_LOG_LEVEL", "error")
	dir := t.TempDir()
	config := filepath.Join(dir, "graphauth.yaml")
	body := "crypto:\n  argon2Time: 1\n  argon2MemoryKB: 1024\n  argon2Threads: 1\n"
	if err := os.WriteFile(config, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return &harness{t: t, dataDir: filepath.Join(dir, "data"), config: config}
}

func (h *harness) run(stdin string, args ...string) (string, error) {
	h.t.Helper()
	var out bytes.Buffer
	root := NewRootCommand(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--config", h.config, "--data-dir", h.dataDir, "--log-level", "error"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestSignupWhoamiDeriveLogout(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("", "signup", "erin", "--password", "Str0ng!Pass")
	if err != nil {
		t.Fatalf("signup: %v\n%s", err, out)
	}
	var signup models.SignUpResult
	if err := json.Unmarshal([]byte(out), &signup); err != nil {
		t.Fatalf("decode signup output: %v\n%s", err, out)
	}
	if !signup.Success || signup.User.Pub == "" {
		t.Fatalf("unexpected signup result %+v", signup)
	}

	out, err = h.run("", "whoami")
	if err != nil {
		t.Fatalf("whoami: %v", err)
	}
	var user models.User
	if err := json.Unmarshal([]byte(out), &user); err != nil {
		t.Fatalf("decode whoami output: %v\n%s", err, out)
	}
	if user.Username != "erin" || user.Pub != signup.User.Pub {
		t.Fatalf("unexpected whoami user %+v", user)
	}

	first, err := h.run("", "derive", "messaging")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	second, err := h.run("", "derive", "messaging")
	if err != nil {
		t.Fatalf("derive again: %v", err)
	}
	if first != second {
		t.Fatalf("derivation must be deterministic:\n%s\n%s", first, second)
	}

	out, err = h.run("", "resolve", "erin")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	var resolved models.AliasResolution
	if err := json.Unmarshal([]byte(out), &resolved); err != nil {
		t.Fatalf("decode resolve output: %v\n%s", err, out)
	}
	if resolved.Pub != signup.User.Pub {
		t.Fatalf("resolve returned %+v", resolved)
	}

	if _, err := h.run("", "logout"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := h.run("", "whoami"); err == nil {
		t.Fatal("expected whoami to fail after logout")
	}

	out, err = h.run("Str0ng!Pass\n", "login", "erin")
	if err != nil {
		t.Fatalf("login from stdin: %v\n%s", err, out)
	}
	if !strings.Contains(out, `"success": true`) {
		t.Fatalf("unexpected login output %s", out)
	}
}

func TestLoginWrongPasswordFails(t *testing.T) {
	h := newHarness(t)
	if _, err := h.run("", "signup", "frank", "--password", "Str0ng!Pass"); err != nil {
		t.Fatalf("signup: %v", err)
	}
	out, err := h.run("", "login", "frank", "--password", "Wr0ng!Pass")
	if err == nil {
		t.Fatalf("expected login failure, got %s", out)
	}
	if !strings.Contains(out, `"error"`) {
		t.Fatalf("expected error in output, got %s", out)
	}
}

func TestPhraseNeedsNoRuntime(t *testing.T) {
	var out bytes.Buffer
	root := NewRootCommand(&out)
	root.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml"), "phrase"})
	if err := root.Execute(); err != nil {
		t.Fatalf("phrase: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode phrase output: %v", err)
	}
	if words := strings.Fields(got["phrase"]); len(words) != 24 {
		t.Fatalf("expected 24 words, got %d", len(words))
	}

	out.Reset()
	root = NewRootCommand(&out)
	root.SetArgs([]string{"phrase", "--check", strings.ToUpper(got["phrase"])})
	if err := root.Execute(); err != nil {
		t.Fatalf("check generated phrase: %v", err)
	}

	root = NewRootCommand(&out)
	root.SetArgs([]string{"phrase", "--check", "abandon abandon"})
	if err := root.Execute(); err == nil {
		t.Fatal("expected invalid phrase to fail")
	}
}

func TestSetupReleasesTracingWhenRuntimeBuildFails(t *testing.T) {
	h := newHarness(t)
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatalf("write blocker: %v", err)
	}

	var out bytes.Buffer
	c := &cli{out: &out, configPath: h.config, dataDir: blocker, logLevel: "error"}
	cmd := &cobra.Command{Use: "whoami"}
	cmd.SetContext(context.Background())

	if err := c.setup(cmd); err == nil {
		t.Fatal("expected setup to fail when the data dir is a file")
	}
	if c.shutdown != nil {
		t.Fatal("tracer shutdown must run when the runtime cannot be built")
	}
	if c.rt != nil {
		t.Fatal("no runtime may be kept after a failed build")
	}
}
