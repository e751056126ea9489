package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/vango-go/vai-voice/pkg/gateway/config"
	gatewayserver "github.com/vango-go/vai-voice/pkg/gateway/server"
)

func TestRunMain_ReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), []string{"serve", "--env-file", ""}, io.Discard, &stderr, serveDeps{
		loadConfig: func(string) (config.Config, error) {
			return config.Config{}, errors.New("boom")
		},
		newGateway: func(cfg config.Config, logger *slog.Logger) (*gatewayserver.Server, error) {
			t.Fatalf("newGateway should not be called when config load fails")
			return nil, nil
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {},
		signalStop:   func(c chan<- os.Signal) {},
	})

	if exitCode != 1 {
		t.Fatalf("exitCode=%d, want 1", exitCode)
	}
	if got := stderr.String(); !strings.Contains(got, "load config: boom") {
		t.Fatalf("stderr=%q, want load config error", got)
	}
}

func TestRunMain_VersionCommand(t *testing.T) {
	var stdout bytes.Buffer
	if code := runMain(context.Background(), []string{"version"}, &stdout, io.Discard, serveDeps{}); code != 0 {
		t.Fatalf("exitCode=%d, want 0", code)
	}
	if got := stdout.String(); got != "vai-voice dev\n" {
		t.Fatalf("stdout=%q", got)
	}
}

func TestRunMain_PassesConfigFlag(t *testing.T) {
	var gotPath string
	code := runMain(context.Background(), []string{"--config", "voice.yaml", "--env-file", ""}, io.Discard, io.Discard, serveDeps{
		loadConfig: func(path string) (config.Config, error) {
			gotPath = path
			return config.Config{}, errors.New("stop")
		},
		newGateway:   func(config.Config, *slog.Logger) (*gatewayserver.Server, error) { return nil, nil },
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {},
		signalStop:   func(c chan<- os.Signal) {},
	})
	if code != 1 || gotPath != "voice.yaml" {
		t.Fatalf("code=%d path=%q, want 1 and voice.yaml", code, gotPath)
	}
}

func TestLoadEnvFile_MissingIsIgnoredAndExistingWins(t *testing.T) {
	if err := loadEnvFile(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("missing file err=%v", err)
	}

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("VAI_VOICE_TEST_A=from-file\nVAI_VOICE_TEST_B=from-file\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("VAI_VOICE_TEST_A", "from-env")
	t.Setenv("VAI_VOICE_TEST_B", "")
	os.Unsetenv("VAI_VOICE_TEST_B")

	if err := loadEnvFile(path); err != nil {
		t.Fatalf("loadEnvFile: %v", err)
	}
	if got := os.Getenv("VAI_VOICE_TEST_A"); got != "from-env" {
		t.Fatalf("A=%q, want from-env", got)
	}
	if got := os.Getenv("VAI_VOICE_TEST_B"); got != "from-file" {
		t.Fatalf("B=%q, want from-file", got)
	}
}

func TestBuildHTTPServer_UsesConfiguredAddress(t *testing.T) {
	cfg := config.Config{
		Addr:              "127.0.0.1:9999",
		ReadHeaderTimeout: 2 * time.Second,
	}

	srv := buildHTTPServer(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	if srv.Addr != cfg.Addr {
		t.Fatalf("Addr=%q, want %q", srv.Addr, cfg.Addr)
	}
	if srv.ReadHeaderTimeout != cfg.ReadHeaderTimeout {
		t.Fatalf("ReadHeaderTimeout=%v, want %v", srv.ReadHeaderTimeout, cfg.ReadHeaderTimeout)
	}
}

func TestRunServe_SignalShutsDownGracefully(t *testing.T) {
	sigReady := make(chan chan<- os.Signal, 1)
	deps := serveDeps{
		loadConfig: func(string) (config.Config, error) {
			cfg := config.Defaults()
			cfg.Addr = "127.0.0.1:0"
			cfg.ShutdownGracePeriod = time.Second
			return cfg, nil
		},
		newGateway: func(cfg config.Config, logger *slog.Logger) (*gatewayserver.Server, error) {
			return gatewayserver.New(cfg, logger)
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) { sigReady <- c },
		signalStop:   func(c chan<- os.Signal) {},
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- runServe(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)), "", deps)
	}()

	select {
	case c := <-sigReady:
		c <- syscall.SIGTERM
	case <-time.After(3 * time.Second):
		t.Fatal("signal handler never installed")
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("runServe err=%v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runServe did not return after SIGTERM")
	}
}
