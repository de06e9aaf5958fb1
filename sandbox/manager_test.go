// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/warden-foundation/warden/lib/testutil"
	"github.com/warden-foundation/warden/namespace"
)

// quietLogger keeps denial debug logging out of test output.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(ManagerConfig{Logger: quietLogger()})
}

// newTestManagerWithNamespaces attaches a simulation-backed namespace
// manager.
func newTestManagerWithNamespaces(t *testing.T) (*Manager, *namespace.Manager) {
	t.Helper()
	namespaces, err := namespace.NewManager(namespace.ManagerConfig{
		Backend: namespace.NewSimulationBackend(quietLogger()),
		Logger:  quietLogger(),
	})
	if err != nil {
		t.Fatalf("namespace manager: %v", err)
	}
	return NewManager(ManagerConfig{
		Namespaces: namespaces,
		Logger:     quietLogger(),
	}), namespaces
}

func TestCreateAndDuplicate(t *testing.T) {
	manager := newTestManager(t)

	if err := manager.Create(Standard(42)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !manager.Has(42) {
		t.Error("sandbox should exist after Create")
	}

	err := manager.Create(Minimal(42))
	if !errors.Is(err, ErrDuplicateSandbox) {
		t.Errorf("second Create for the same pid: got %v, want ErrDuplicateSandbox", err)
	}

	// The original config survives the rejected create.
	if config := manager.Sandbox(42); config.Tier != TierStandard {
		t.Errorf("Tier after rejected duplicate = %q, want standard", config.Tier)
	}
}

func TestCreateNilConfig(t *testing.T) {
	manager := newTestManager(t)
	if err := manager.Create(nil); err == nil {
		t.Error("nil config must be rejected")
	}
}

func TestDestroyIdempotent(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	if err := manager.Create(Minimal(5)); err != nil {
		t.Fatal(err)
	}
	if err := manager.Destroy(ctx, 5); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if manager.Has(5) {
		t.Error("sandbox should be gone")
	}
	// Destroying again, and destroying a pid that never existed, both
	// succeed.
	if err := manager.Destroy(ctx, 5); err != nil {
		t.Errorf("second Destroy: %v", err)
	}
	if err := manager.Destroy(ctx, 9999); err != nil {
		t.Errorf("Destroy of unknown pid: %v", err)
	}
}

func TestSandboxReturnsCopy(t *testing.T) {
	manager := newTestManager(t)
	if err := manager.Create(Standard(1)); err != nil {
		t.Fatal(err)
	}

	config := manager.Sandbox(1)
	config.Capabilities[Capability{Kind: SpawnProcess}] = struct{}{}

	if manager.CheckCapability(1, Capability{Kind: SpawnProcess}) {
		t.Error("mutating the returned config must not affect the registered one")
	}
	if manager.Sandbox(9999) != nil {
		t.Error("unknown pid should return nil")
	}
}

func TestUpdateReplacesConfig(t *testing.T) {
	manager := newTestManager(t)
	if err := manager.Create(Minimal(3)); err != nil {
		t.Fatal(err)
	}

	replacement := Standard(3)
	if err := manager.Update(replacement); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := manager.Sandbox(3).Tier; got != TierStandard {
		t.Errorf("Tier after Update = %q", got)
	}

	err := manager.Update(Standard(404))
	if !errors.Is(err, ErrSandboxNotFound) {
		t.Errorf("Update of unknown pid: got %v, want ErrSandboxNotFound", err)
	}
}

func TestCheckCapabilityOrSemantics(t *testing.T) {
	manager := newTestManager(t)
	config := Minimal(10)
	config.Capabilities = capabilitySet(
		Capability{Kind: ReadFile, Scope: "/data"},
		Capability{Kind: ReadFile, Scope: "/logs"},
	)
	if err := manager.Create(config); err != nil {
		t.Fatal(err)
	}

	// One applicable grant out of several is sufficient.
	if !manager.CheckCapability(10, Capability{Kind: ReadFile, Scope: "/logs/app.log"}) {
		t.Error("second grant should satisfy the request")
	}
	if manager.CheckCapability(10, Capability{Kind: ReadFile, Scope: "/etc/hosts"}) {
		t.Error("no grant covers /etc")
	}
	if manager.CheckCapability(10, Capability{Kind: WriteFile, Scope: "/data/x"}) {
		t.Error("kind mismatch must deny")
	}
	if manager.CheckCapability(404, Capability{Kind: ReadFile, Scope: "/data"}) {
		t.Error("unknown pid must fail closed")
	}
}

func TestGrantAndRevoke(t *testing.T) {
	manager := newTestManager(t)
	if err := manager.Create(Minimal(20)); err != nil {
		t.Fatal(err)
	}

	capability := Capability{Kind: SendMessage}
	if manager.CheckCapability(20, capability) {
		t.Error("minimal tier should not hold send-message")
	}
	if err := manager.Grant(20, capability); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if !manager.CheckCapability(20, capability) {
		t.Error("granted capability should pass the check")
	}
	if err := manager.Revoke(20, capability); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if manager.CheckCapability(20, capability) {
		t.Error("revoked capability should fail the check")
	}

	if err := manager.Grant(404, capability); !errors.Is(err, ErrSandboxNotFound) {
		t.Errorf("Grant to unknown pid: got %v", err)
	}
	if err := manager.Revoke(404, capability); !errors.Is(err, ErrSandboxNotFound) {
		t.Errorf("Revoke from unknown pid: got %v", err)
	}
}

func TestCheckFileOperation(t *testing.T) {
	manager := newTestManager(t)

	// Anchor the sandbox's allowed paths at a real directory so the
	// resolver sees an existing parent chain.
	workDir, err := Resolve(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	config := Minimal(42)
	config.Capabilities = capabilitySet(
		Capability{Kind: ReadFile},
		Capability{Kind: WriteFile},
		Capability{Kind: CreateFile},
	)
	config.AllowedPaths = []string{workDir.Path()}
	if err := manager.Create(config); err != nil {
		t.Fatal(err)
	}

	allowed := filepath.Join(workDir.Path(), "notes.txt")
	if err := os.WriteFile(allowed, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := manager.CheckFileOperation(42, OpRead, allowed); err != nil {
		t.Errorf("read inside the allowed tree: %v", err)
	}
	// Create of a not-yet-existing file in the allowed tree.
	if err := manager.CheckFileOperation(42, OpCreate, filepath.Join(workDir.Path(), "new.txt")); err != nil {
		t.Errorf("create of missing leaf: %v", err)
	}
	// Held capabilities do not cover delete.
	err = manager.CheckFileOperation(42, OpDelete, allowed)
	if !errors.Is(err, ErrCapabilityDenied) {
		t.Errorf("delete without delete-file: got %v, want ErrCapabilityDenied", err)
	}
	// Outside the allowed tree the path lists deny.
	err = manager.CheckFileOperation(42, OpRead, "/")
	if !errors.Is(err, ErrCapabilityDenied) {
		t.Errorf("read outside allowed paths: got %v, want ErrCapabilityDenied", err)
	}
	// Unknown pid.
	err = manager.CheckFileOperation(404, OpRead, allowed)
	if !errors.Is(err, ErrSandboxNotFound) {
		t.Errorf("unknown pid: got %v, want ErrSandboxNotFound", err)
	}
	// Unresolvable path.
	var pathError *PathError
	err = manager.CheckFileOperation(42, OpRead, filepath.Join(workDir.Path(), "no-dir", "x", "y"))
	if !errors.As(err, &pathError) {
		t.Errorf("unresolvable path: got %v, want *PathError", err)
	}
}

func TestCheckFileHandleReuse(t *testing.T) {
	manager := newTestManager(t)
	workDir, err := Resolve(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	config := Minimal(1)
	config.Capabilities = capabilitySet(Capability{Kind: WriteFile})
	config.AllowedPaths = []string{workDir.Path()}
	if err := manager.Create(config); err != nil {
		t.Fatal(err)
	}

	handle, err := Resolve(filepath.Join(workDir.Path(), "out.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if err := manager.CheckFileHandle(1, OpWrite, handle); err != nil {
		t.Fatalf("CheckFileHandle: %v", err)
	}
	// The caller performs the write through the same handle.
	if err := os.WriteFile(handle.Path(), []byte("data"), 0644); err != nil {
		t.Fatalf("write through handle: %v", err)
	}
}

func TestCheckNetworkAccess(t *testing.T) {
	manager := newTestManager(t)
	config := Minimal(8)
	config.NetworkRules = []NetworkRule{
		{Action: AllowHost, Host: "*.example.com", Port: 443},
		{Action: BlockHost, Host: "blocked.example.com"},
	}
	if err := manager.Create(config); err != nil {
		t.Fatal(err)
	}

	if err := manager.CheckNetworkAccess(8, "api.example.com", 443); err != nil {
		t.Errorf("allowed host: %v", err)
	}
	err := manager.CheckNetworkAccess(8, "blocked.example.com", 443)
	if !errors.Is(err, ErrNetworkDenied) {
		t.Errorf("blocked host: got %v, want ErrNetworkDenied", err)
	}
	err = manager.CheckNetworkAccess(8, "api.example.com", 80)
	if !errors.Is(err, ErrNetworkDenied) {
		t.Errorf("wrong port: got %v, want ErrNetworkDenied", err)
	}
	err = manager.CheckNetworkAccess(404, "api.example.com", 443)
	if !errors.Is(err, ErrSandboxNotFound) {
		t.Errorf("unknown pid: got %v, want ErrSandboxNotFound", err)
	}
}

func TestFullIsolationOverridesRules(t *testing.T) {
	manager, namespaces := newTestManagerWithNamespaces(t)
	ctx := context.Background()

	config := Minimal(9)
	config.Capabilities = capabilitySet(Capability{Kind: NetworkNamespace})
	config.NetworkRules = []NetworkRule{{Action: AllowAll}}
	if err := manager.Create(config); err != nil {
		t.Fatal(err)
	}

	// Rules allow everything while no namespace exists.
	if err := manager.CheckNetworkAccess(9, "example.com", 443); err != nil {
		t.Fatalf("before isolation: %v", err)
	}

	if err := manager.CreateNamespace(ctx, 9, namespace.Full); err != nil {
		t.Fatalf("CreateNamespace: %v", err)
	}
	err := manager.CheckNetworkAccess(9, "example.com", 443)
	if !errors.Is(err, ErrNetworkDenied) {
		t.Errorf("full isolation must deny despite allow-all: got %v", err)
	}

	if err := manager.DestroyNamespace(ctx, 9); err != nil {
		t.Fatalf("DestroyNamespace: %v", err)
	}
	if err := manager.CheckNetworkAccess(9, "example.com", 443); err != nil {
		t.Errorf("after isolation removed: %v", err)
	}
	if _, found := namespaces.ByPid(9); found {
		t.Error("namespace should be gone")
	}
}

func TestCreateNamespaceRequiresCapability(t *testing.T) {
	manager, _ := newTestManagerWithNamespaces(t)
	ctx := context.Background()

	if err := manager.Create(Minimal(11)); err != nil {
		t.Fatal(err)
	}
	err := manager.CreateNamespace(ctx, 11, namespace.Private)
	if !errors.Is(err, ErrCapabilityDenied) {
		t.Errorf("namespace creation without the capability: got %v", err)
	}

	// Granting the capability does not create a namespace by itself.
	if err := manager.Grant(11, Capability{Kind: NetworkNamespace}); err != nil {
		t.Fatal(err)
	}
	if _, found := manager.Namespaces().ByPid(11); found {
		t.Error("grant alone must not create a namespace")
	}
	if err := manager.CreateNamespace(ctx, 11, namespace.Private); err != nil {
		t.Errorf("namespace creation with the capability: %v", err)
	}
}

func TestDestroyTearsDownNamespace(t *testing.T) {
	manager, namespaces := newTestManagerWithNamespaces(t)
	ctx := context.Background()

	config := Minimal(12)
	config.Capabilities = capabilitySet(Capability{Kind: NetworkNamespace})
	if err := manager.Create(config); err != nil {
		t.Fatal(err)
	}
	if err := manager.CreateNamespace(ctx, 12, namespace.Private); err != nil {
		t.Fatal(err)
	}

	if err := manager.Destroy(ctx, 12); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, found := namespaces.ByPid(12); found {
		t.Error("sandbox destroy must tear down the namespace")
	}
}

func TestSpawnAccounting(t *testing.T) {
	manager := newTestManager(t)
	if err := manager.Create(Minimal(30)); err != nil {
		t.Fatal(err)
	}

	// Minimal tier allows one process.
	if !manager.CanSpawn(30) {
		t.Error("no children yet, spawn should be allowed")
	}
	manager.RecordSpawn(30)
	if manager.CanSpawn(30) {
		t.Error("at the limit, spawn should be denied")
	}
	if got := manager.SpawnCount(30); got != 1 {
		t.Errorf("SpawnCount = %d", got)
	}
	manager.RecordTermination(30)
	if !manager.CanSpawn(30) {
		t.Error("after termination, spawn should be allowed again")
	}
	// Termination below zero clamps.
	manager.RecordTermination(30)
	if got := manager.SpawnCount(30); got != 0 {
		t.Errorf("SpawnCount after extra termination = %d", got)
	}
	if manager.CanSpawn(404) {
		t.Error("unknown pid must not spawn")
	}
}

func TestAllowAndBlockPath(t *testing.T) {
	manager := newTestManager(t)
	if err := manager.Create(Minimal(40)); err != nil {
		t.Fatal(err)
	}

	if err := manager.AllowPath(40, "/data"); err != nil {
		t.Fatal(err)
	}
	if !manager.Sandbox(40).CanAccessPath("/data/file") {
		t.Error("allowed path should now be accessible")
	}
	if err := manager.BlockPath(40, "/data/secret"); err != nil {
		t.Fatal(err)
	}
	if manager.Sandbox(40).CanAccessPath("/data/secret/key") {
		t.Error("blocked path should deny")
	}
}

func TestStatsCounters(t *testing.T) {
	manager := newTestManager(t)
	if err := manager.Create(Minimal(50)); err != nil {
		t.Fatal(err)
	}

	manager.CheckCapability(50, Capability{Kind: ReadFile, Scope: "/x"}) // denied
	manager.CheckNetworkAccess(50, "example.com", 443)                   // denied

	stats := manager.Stats()
	if stats.CapabilityChecks == 0 {
		t.Error("capability checks should be counted")
	}
	if stats.PermissionDenials == 0 {
		t.Error("capability denials should be counted")
	}
	if stats.NetworkChecks != 1 {
		t.Errorf("NetworkChecks = %d", stats.NetworkChecks)
	}
	if stats.NetworkDenials != 1 {
		t.Errorf("NetworkDenials = %d", stats.NetworkDenials)
	}
	if stats.TotalSandboxes != 1 {
		t.Errorf("TotalSandboxes = %d", stats.TotalSandboxes)
	}
}

func TestConcurrentChecksDuringMutation(t *testing.T) {
	manager := newTestManager(t)
	config := Minimal(60)
	config.Capabilities = capabilitySet(Capability{Kind: ReadFile, Scope: "/data"})
	if err := manager.Create(config); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	var group sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		group.Add(1)
		go func() {
			defer group.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				// Either snapshot is consistent; the check must never
				// observe a half-published set.
				manager.CheckCapability(60, Capability{Kind: ReadFile, Scope: "/data/x"})
			}
		}()
	}

	for i := 0; i < 200; i++ {
		capability := Capability{Kind: SendMessage}
		if err := manager.Grant(60, capability); err != nil {
			t.Errorf("Grant: %v", err)
			break
		}
		if err := manager.Revoke(60, capability); err != nil {
			t.Errorf("Revoke: %v", err)
			break
		}
	}
	close(done)

	finished := make(chan struct{})
	go func() {
		group.Wait()
		close(finished)
	}()
	testutil.RequireClosed(t, finished, 5*time.Second, "checker goroutines exiting")

	if !manager.CheckCapability(60, Capability{Kind: ReadFile, Scope: "/data/x"}) {
		t.Error("original grant must survive the grant/revoke churn")
	}
}
