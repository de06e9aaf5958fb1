// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package namespace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// bridgeName is the host bridge that bridged-mode namespaces attach
// to. Created on first use, shared by all bridged namespaces, never
// torn down.
const bridgeName = "warden0"

// nftTable is the nftables table holding Warden's NAT rules. Every
// rule carries the owning namespace ID as a comment so teardown can
// find its handles without tracking them.
const nftTable = "warden"

// LinuxBackend realizes namespaces with Linux network namespaces,
// veth pairs, and nftables NAT. It shells out to ip(8) and nft(8)
// rather than speaking netlink directly: the command surface is
// stable, debuggable by hand, and identical to what an operator
// would type.
type LinuxBackend struct {
	registry *registry
	logger   *slog.Logger
}

// NewLinuxBackend creates a Linux network namespace backend.
func NewLinuxBackend(logger *slog.Logger) *LinuxBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &LinuxBackend{
		registry: newRegistry(),
		logger:   logger,
	}
}

// Supported reports whether this host can run the backend: network
// namespace support in the kernel, root privileges for ip and nft,
// and the ip tool on PATH.
func (b *LinuxBackend) Supported() bool {
	if _, err := os.Stat("/proc/self/ns/net"); err != nil {
		return false
	}
	if unix.Geteuid() != 0 {
		return false
	}
	if _, err := exec.LookPath("ip"); err != nil {
		return false
	}
	return true
}

// Platform identifies the backend.
func (b *LinuxBackend) Platform() Platform {
	return PlatformLinux
}

// Create realizes the namespace. Shared mode is bookkeeping only:
// the process keeps the host's network, so no OS objects are made.
// On any setup failure the partial OS state is torn down before the
// error is returned.
func (b *LinuxBackend) Create(ctx context.Context, config Config) error {
	info, err := b.registry.add(config, PlatformLinux)
	if err != nil {
		return err
	}

	if config.Mode == Shared {
		return nil
	}

	if err := b.setupOS(ctx, config); err != nil {
		b.registry.remove(config.ID)
		b.teardownOS(context.WithoutCancel(ctx), info, true)
		return fmt.Errorf("%w: %w", ErrCreateFailed, err)
	}
	return nil
}

// Destroy tears the namespace down. The registry entry is removed
// first; OS teardown rolls forward past individual failures and the
// joined error is reported.
func (b *LinuxBackend) Destroy(ctx context.Context, id ID) error {
	info, ok := b.registry.remove(id)
	if !ok {
		return ErrNotFound
	}
	if info.Config.Mode == Shared {
		return nil
	}
	return b.teardownOS(ctx, info, false)
}

// Exists reports whether the ID is active.
func (b *LinuxBackend) Exists(id ID) bool {
	return b.registry.exists(id)
}

// Info returns the active namespace's description.
func (b *LinuxBackend) Info(id ID) (Info, bool) {
	return b.registry.get(id)
}

// List returns all active namespaces.
func (b *LinuxBackend) List() []Info {
	return b.registry.list()
}

// ByPid returns the active namespace owned by pid.
func (b *LinuxBackend) ByPid(pid uint32) (Info, bool) {
	return b.registry.byPidLookup(pid)
}

// Stats reads interface counters for an active namespace from the
// host side of its veth pair. Host receive is namespace transmit
// and vice versa, so the directions are swapped.
func (b *LinuxBackend) Stats(id ID) (Stats, bool) {
	info, ok := b.registry.get(id)
	if !ok {
		return Stats{}, false
	}

	stats := Stats{
		ID:        id,
		CreatedAt: info.CreatedAt,
	}
	switch info.Config.Mode {
	case Private, Bridged:
		stats.InterfaceCount = 2
		device := hostVethName(info.Config.Pid)
		stats.TxBytes = readLinkCounter(device, "rx_bytes")
		stats.RxBytes = readLinkCounter(device, "tx_bytes")
		stats.TxPackets = readLinkCounter(device, "rx_packets")
		stats.RxPackets = readLinkCounter(device, "tx_packets")
	default:
		stats.InterfaceCount = 1
	}
	return stats, true
}

// cleanupOrphan removes OS artifacts recorded by a previous
// process. Best effort: the artifacts may already be partially or
// fully gone, so command failures are logged and swallowed.
func (b *LinuxBackend) cleanupOrphan(ctx context.Context, info Info) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if info.Config.Mode == Shared {
		return nil
	}
	b.teardownOS(ctx, info, true)
	return nil
}

// setupOS builds the namespace's OS objects in dependency order:
// the netns itself, loopback, then per-mode connectivity.
func (b *LinuxBackend) setupOS(ctx context.Context, config Config) error {
	name := config.ID.String()

	if err := run(ctx, "ip", "netns", "add", name); err != nil {
		return err
	}
	if err := run(ctx, "ip", "-n", name, "link", "set", "lo", "up"); err != nil {
		return err
	}
	if !config.EnableIPv6 {
		// Errors here are non-fatal: kernels built without IPv6
		// have nothing to disable.
		run(ctx, "ip", "netns", "exec", name,
			"sysctl", "-w", "net.ipv6.conf.all.disable_ipv6=1")
	}

	switch config.Mode {
	case Full:
		// Loopback only. No route out, no interfaces in.
		return nil
	case Private:
		if err := b.setupVeth(ctx, config); err != nil {
			return err
		}
		if err := b.setupNAT(ctx, config); err != nil {
			return err
		}
		return b.writeResolvConf(config)
	case Bridged:
		if err := b.ensureBridge(ctx, config); err != nil {
			return err
		}
		if err := b.setupVeth(ctx, config); err != nil {
			return err
		}
		return b.writeResolvConf(config)
	default:
		return fmt.Errorf("mode %q has no Linux setup", config.Mode)
	}
}

// setupVeth creates the veth pair, moves the peer into the
// namespace, assigns addresses, and installs the default route. In
// private mode the host end carries the gateway address; in bridged
// mode it is enslaved to the bridge, which carries it.
func (b *LinuxBackend) setupVeth(ctx context.Context, config Config) error {
	name := config.ID.String()
	iface := config.Interface
	hostVeth := hostVethName(config.Pid)
	prefixLen := strconv.Itoa(iface.PrefixLen)

	if err := run(ctx, "ip", "link", "add", hostVeth, "type", "veth",
		"peer", "name", iface.Name); err != nil {
		return err
	}
	if err := run(ctx, "ip", "link", "set", iface.Name, "netns", name); err != nil {
		return err
	}
	if iface.MTU > 0 {
		mtu := strconv.Itoa(iface.MTU)
		if err := run(ctx, "ip", "link", "set", hostVeth, "mtu", mtu); err != nil {
			return err
		}
		if err := run(ctx, "ip", "-n", name, "link", "set", iface.Name, "mtu", mtu); err != nil {
			return err
		}
	}

	switch config.Mode {
	case Private:
		if err := run(ctx, "ip", "addr", "add",
			iface.Gateway.String()+"/"+prefixLen, "dev", hostVeth); err != nil {
			return err
		}
	case Bridged:
		if err := run(ctx, "ip", "link", "set", hostVeth, "master", bridgeName); err != nil {
			return err
		}
	}
	if err := run(ctx, "ip", "link", "set", hostVeth, "up"); err != nil {
		return err
	}

	if err := run(ctx, "ip", "-n", name, "addr", "add",
		iface.Addr.String()+"/"+prefixLen, "dev", iface.Name); err != nil {
		return err
	}
	if err := run(ctx, "ip", "-n", name, "link", "set", iface.Name, "up"); err != nil {
		return err
	}
	if iface.Gateway.IsValid() {
		if err := run(ctx, "ip", "-n", name, "route", "add", "default",
			"via", iface.Gateway.String()); err != nil {
			return err
		}
	}
	return nil
}

// ensureBridge creates the shared host bridge if it does not exist
// and gives it the gateway address. Both operations tolerate the
// bridge already being configured by an earlier namespace.
func (b *LinuxBackend) ensureBridge(ctx context.Context, config Config) error {
	if err := run(ctx, "ip", "link", "add", "name", bridgeName, "type", "bridge"); err != nil {
		if !strings.Contains(err.Error(), "File exists") {
			return err
		}
	}
	if err := run(ctx, "ip", "link", "set", bridgeName, "up"); err != nil {
		return err
	}
	if config.Interface.Gateway.IsValid() {
		prefixLen := strconv.Itoa(config.Interface.PrefixLen)
		if err := run(ctx, "ip", "addr", "add",
			config.Interface.Gateway.String()+"/"+prefixLen, "dev", bridgeName); err != nil {
			if !strings.Contains(err.Error(), "File exists") {
				return err
			}
		}
	}
	return nil
}

// setupNAT installs masquerading for the namespace's subnet and, if
// port forwards are configured, a per-namespace dnat chain. Every
// rule carries the namespace ID as its comment; teardown finds
// handles by that comment.
func (b *LinuxBackend) setupNAT(ctx context.Context, config Config) error {
	id := config.ID.String()
	iface := config.Interface

	if err := run(ctx, "nft", "add", "table", "ip", nftTable); err != nil {
		return err
	}
	if err := run(ctx, "nft", "add", "chain", "ip", nftTable, "postrouting",
		"{ type nat hook postrouting priority srcnat ; policy accept ; }"); err != nil {
		return err
	}

	subnet := netip.PrefixFrom(iface.Addr, iface.PrefixLen).Masked()
	if err := run(ctx, "nft", "add", "rule", "ip", nftTable, "postrouting",
		"ip", "saddr", subnet.String(), "masquerade",
		"comment", id); err != nil {
		return err
	}

	if len(config.PortForwards) == 0 {
		return nil
	}

	if err := run(ctx, "nft", "add", "chain", "ip", nftTable, "prerouting",
		"{ type nat hook prerouting priority dstnat ; policy accept ; }"); err != nil {
		return err
	}
	chain := forwardChainName(config.ID)
	if err := run(ctx, "nft", "add", "chain", "ip", nftTable, chain); err != nil {
		return err
	}
	if err := run(ctx, "nft", "add", "rule", "ip", nftTable, "prerouting",
		"jump", chain, "comment", id); err != nil {
		return err
	}
	for _, forward := range config.PortForwards {
		target := fmt.Sprintf("%s:%d", iface.Addr, forward.NamespacePort)
		if err := run(ctx, "nft", "add", "rule", "ip", nftTable, chain,
			"tcp", "dport", strconv.Itoa(int(forward.HostPort)),
			"dnat", "to", target); err != nil {
			return err
		}
	}
	return nil
}

// teardownOS removes the namespace's OS objects in reverse order of
// setup. Roll-forward: each step runs regardless of earlier
// failures. In bestEffort mode (create rollback, orphan cleanup)
// failures are logged and dropped since the state may be partial.
func (b *LinuxBackend) teardownOS(ctx context.Context, info Info, bestEffort bool) error {
	name := info.Config.ID.String()
	var errs []error

	if info.Config.Mode == Private {
		if err := b.teardownNAT(ctx, info.Config); err != nil {
			errs = append(errs, err)
		}
	}
	if info.Config.Mode == Private || info.Config.Mode == Bridged {
		// Deleting the netns removes the peer, taking the host veth
		// with it, but the pair may never have made it into the
		// namespace if setup failed early.
		if err := run(ctx, "ip", "link", "del", hostVethName(info.Config.Pid)); err != nil {
			if !strings.Contains(err.Error(), "Cannot find device") {
				errs = append(errs, err)
			}
		}
		if err := os.RemoveAll(filepath.Join("/etc/netns", name)); err != nil {
			errs = append(errs, fmt.Errorf("removing resolv.conf dir: %w", err))
		}
	}
	if err := run(ctx, "ip", "netns", "delete", name); err != nil {
		if !strings.Contains(err.Error(), "No such file") {
			errs = append(errs, err)
		}
	}

	err := errors.Join(errs...)
	if err != nil && bestEffort {
		b.logger.Warn("partial namespace teardown", "id", name, "error", err)
		return nil
	}
	return err
}

// teardownNAT deletes the namespace's nftables rules by scanning
// the base chains for its comment, then drops its dnat chain.
func (b *LinuxBackend) teardownNAT(ctx context.Context, config Config) error {
	id := config.ID.String()
	var errs []error

	for _, chain := range []string{"postrouting", "prerouting"} {
		handles, err := ruleHandlesByComment(ctx, chain, id)
		if err != nil {
			// A missing table or chain means there is nothing to
			// delete.
			continue
		}
		for _, handle := range handles {
			if err := run(ctx, "nft", "delete", "rule", "ip", nftTable, chain,
				"handle", handle); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if len(config.PortForwards) > 0 {
		chain := forwardChainName(config.ID)
		if err := run(ctx, "nft", "flush", "chain", "ip", nftTable, chain); err == nil {
			if err := run(ctx, "nft", "delete", "chain", "ip", nftTable, chain); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// ruleHandlesByComment lists a base chain with handles and returns
// the handle of every rule whose comment is the given ID.
func ruleHandlesByComment(ctx context.Context, chain, id string) ([]string, error) {
	out, err := output(ctx, "nft", "-a", "list", "chain", "ip", nftTable, chain)
	if err != nil {
		return nil, err
	}

	needle := `comment "` + id + `"`
	var handles []string
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, needle) {
			continue
		}
		marker := strings.LastIndex(line, "# handle ")
		if marker < 0 {
			continue
		}
		handles = append(handles, strings.TrimSpace(line[marker+len("# handle "):]))
	}
	return handles, nil
}

// writeResolvConf points the namespace's DNS at the configured
// servers. ip-netns(8) bind-mounts /etc/netns/<name>/resolv.conf
// over /etc/resolv.conf for processes entered into the namespace.
func (b *LinuxBackend) writeResolvConf(config Config) error {
	if len(config.DNSServers) == 0 {
		return nil
	}

	dir := filepath.Join("/etc/netns", config.ID.String())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating netns config dir: %w", err)
	}

	var content strings.Builder
	for _, server := range config.DNSServers {
		content.WriteString("nameserver ")
		content.WriteString(server.String())
		content.WriteString("\n")
	}
	path := filepath.Join(dir, "resolv.conf")
	if err := os.WriteFile(path, []byte(content.String()), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// hostVethName is the host-side veth device for a pid. Fits the
// 15-character interface name limit for any 32-bit pid.
func hostVethName(pid uint32) string {
	return "vw-" + strconv.FormatUint(uint64(pid), 10)
}

// forwardChainName is the per-namespace dnat chain.
func forwardChainName(id ID) string {
	return "pf-" + id.String()
}

// readLinkCounter reads one statistics counter for a host network
// device, returning zero when the device or counter is gone.
func readLinkCounter(device, counter string) uint64 {
	path := filepath.Join("/sys/class/net", device, "statistics", counter)
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	value, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0
	}
	return value
}

// run executes a command and folds its output into the error.
func run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s %s: %w (%s)",
			name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// output executes a command and returns its combined output.
func output(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s %s: %w (%s)",
			name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}
