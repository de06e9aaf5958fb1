// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/warden-foundation/warden/lib/version"
	"github.com/warden-foundation/warden/namespace"
	"github.com/warden-foundation/warden/sandbox"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if os.Getenv("WARDEN_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "detect":
		err = detectCmd(args, logger)
	case "validate":
		err = validateCmd(args)
	case "show":
		err = showCmd(args)
	case "check":
		err = checkCmd(args, logger)
	case "netns":
		err = netnsCmd(args, logger)
	case "version", "--version", "-v":
		fmt.Printf("warden-sandbox %s\n", version.Info())
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`warden-sandbox - Inspect and evaluate sandbox policy

USAGE
    warden-sandbox <command> [flags] [args...]

COMMANDS
    detect    Report the namespace backend available on this host
    validate  Validate a policy file or directory
    show      Show a policy definition's effective configuration
    check     Evaluate a file or network access against a policy
    netns     Inspect network namespace state
    version   Show version

EXAMPLES
    # Validate every policy document in a directory
    warden-sandbox validate /etc/warden/policy

    # Show the effective config for the "builder" definition
    warden-sandbox show --policy policy.yaml builder

    # Would a builder sandbox be allowed to read /tmp/scratch?
    warden-sandbox check file --policy policy.yaml --name builder --op read /tmp/scratch

    # Would it be allowed to reach api.example.com:443?
    warden-sandbox check network --policy policy.yaml --name builder api.example.com 443

ENVIRONMENT
    WARDEN_DEBUG  Enable debug logging
`)
}

// detectCmd probes the host and reports which namespace backend the
// manager would use.
func detectCmd(args []string, logger *slog.Logger) error {
	flagSet := pflag.NewFlagSet("detect", pflag.ContinueOnError)
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	manager, err := namespace.NewManager(namespace.ManagerConfig{Logger: logger})
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
	fmt.Fprintf(writer, "platform:\t%s\n", manager.Platform())
	fmt.Fprintf(writer, "true isolation:\t%v\n", manager.TrueIsolation())
	return writer.Flush()
}

// validateCmd parses a policy file or directory and reports its
// definitions.
func validateCmd(args []string) error {
	flagSet := pflag.NewFlagSet("validate", pflag.ContinueOnError)
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() != 1 {
		return fmt.Errorf("usage: warden-sandbox validate <policy-file-or-dir>")
	}

	path := flagSet.Arg(0)
	policy, err := loadPolicyPath(path)
	if err != nil {
		return err
	}

	names := policy.Names()
	if len(names) == 0 {
		fmt.Printf("%s: valid, no definitions\n", path)
		return nil
	}
	fmt.Printf("%s: valid, %d definition(s)\n", path, len(names))
	for _, name := range names {
		definition, _ := policy.Definition(name)
		fmt.Printf("  %s (tier %s)\n", name, definition.Tier)
	}
	return nil
}

// showCmd prints a definition's effective configuration: the tier
// preset with the definition's additions applied.
func showCmd(args []string) error {
	flagSet := pflag.NewFlagSet("show", pflag.ContinueOnError)
	policyPath := flagSet.String("policy", "", "policy file or directory (required)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if *policyPath == "" {
		return fmt.Errorf("--policy is required")
	}
	if flagSet.NArg() != 1 {
		return fmt.Errorf("usage: warden-sandbox show --policy <path> <name>")
	}

	policy, err := loadPolicyPath(*policyPath)
	if err != nil {
		return err
	}
	config, err := policy.Instantiate(flagSet.Arg(0), 0)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
	fmt.Fprintf(writer, "tier:\t%s\n", config.Tier)
	fmt.Fprintf(writer, "max memory:\t%d bytes\n", config.Limits.MaxMemoryBytes)
	fmt.Fprintf(writer, "max cpu time:\t%s\n", config.Limits.MaxCPUTime)
	fmt.Fprintf(writer, "max fds:\t%d\n", config.Limits.MaxFileDescriptors)
	fmt.Fprintf(writer, "max processes:\t%d\n", config.Limits.MaxProcesses)
	fmt.Fprintf(writer, "max connections:\t%d\n", config.Limits.MaxNetworkConnections)

	capabilities := make([]string, 0, len(config.Capabilities))
	for capability := range config.Capabilities {
		capabilities = append(capabilities, capability.String())
	}
	sort.Strings(capabilities)
	for _, capability := range capabilities {
		fmt.Fprintf(writer, "capability:\t%s\n", capability)
	}
	for _, rule := range config.NetworkRules {
		fmt.Fprintf(writer, "network rule:\t%+v\n", rule)
	}
	for _, path := range config.AllowedPaths {
		fmt.Fprintf(writer, "allowed path:\t%s\n", path)
	}
	for _, path := range config.BlockedPaths {
		fmt.Fprintf(writer, "blocked path:\t%s\n", path)
	}
	return writer.Flush()
}

// checkCmd evaluates a hypothetical access against a policy
// definition. It instantiates the definition into a throwaway
// manager and runs the same checks the runtime would.
func checkCmd(args []string, logger *slog.Logger) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: warden-sandbox check <file|network> [flags] args...")
	}
	kind := args[0]
	args = args[1:]

	flagSet := pflag.NewFlagSet("check", pflag.ContinueOnError)
	policyPath := flagSet.String("policy", "", "policy file or directory (required)")
	name := flagSet.String("name", "", "policy definition name (required)")
	op := flagSet.String("op", "read", "file operation: read, write, create, delete, list")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if *policyPath == "" || *name == "" {
		return fmt.Errorf("--policy and --name are required")
	}

	policy, err := loadPolicyPath(*policyPath)
	if err != nil {
		return err
	}

	// Pid 1 is a placeholder: the checks depend only on the config.
	const pid = 1
	config, err := policy.Instantiate(*name, pid)
	if err != nil {
		return err
	}
	manager := sandbox.NewManager(sandbox.ManagerConfig{Logger: logger})
	if err := manager.Create(config); err != nil {
		return err
	}

	switch kind {
	case "file":
		if flagSet.NArg() != 1 {
			return fmt.Errorf("usage: warden-sandbox check file --policy <path> --name <def> --op <op> <path>")
		}
		err := manager.CheckFileOperation(pid, sandbox.FileOperation(*op), flagSet.Arg(0))
		if err != nil {
			if errors.Is(err, sandbox.ErrCapabilityDenied) {
				fmt.Printf("denied: %v\n", err)
				return nil
			}
			return err
		}
		fmt.Println("allowed")
		return nil
	case "network":
		if flagSet.NArg() != 2 {
			return fmt.Errorf("usage: warden-sandbox check network --policy <path> --name <def> <host> <port>")
		}
		port, err := strconv.ParseUint(flagSet.Arg(1), 10, 16)
		if err != nil {
			return fmt.Errorf("invalid port %q: %w", flagSet.Arg(1), err)
		}
		if err := manager.CheckNetworkAccess(pid, flagSet.Arg(0), uint16(port)); err != nil {
			if errors.Is(err, sandbox.ErrNetworkDenied) {
				fmt.Printf("denied: %v\n", err)
				return nil
			}
			return err
		}
		fmt.Println("allowed")
		return nil
	default:
		return fmt.Errorf("unknown check kind %q (want file or network)", kind)
	}
}

// netnsCmd inspects namespace state.
func netnsCmd(args []string, logger *slog.Logger) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: warden-sandbox netns list [--state <path>]")
	}
	sub := args[0]
	args = args[1:]

	flagSet := pflag.NewFlagSet("netns", pflag.ContinueOnError)
	statePath := flagSet.String("state", "", "namespace state file from a previous run")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	switch sub {
	case "list":
		manager, err := namespace.NewManager(namespace.ManagerConfig{
			Logger:    logger,
			StatePath: *statePath,
		})
		if err != nil {
			return err
		}

		writer := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
		fmt.Fprintln(writer, "ID\tPID\tMODE\tPLATFORM\tCREATED\tSTATUS")
		for _, info := range manager.List() {
			fmt.Fprintf(writer, "%s\t%d\t%s\t%s\t%s\tactive\n",
				info.Config.ID, info.Config.Pid, info.Config.Mode,
				info.Platform, info.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		for _, info := range manager.Orphans() {
			fmt.Fprintf(writer, "%s\t%d\t%s\t%s\t%s\torphaned\n",
				info.Config.ID, info.Config.Pid, info.Config.Mode,
				info.Platform, info.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return writer.Flush()
	default:
		return fmt.Errorf("unknown netns subcommand %q (want list)", sub)
	}
}

// loadPolicyPath loads a policy from a file or a directory of files.
func loadPolicyPath(path string) (*sandbox.Policy, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if stat.IsDir() {
		return sandbox.LoadPolicyDir(path)
	}
	return sandbox.LoadPolicy(path)
}
