// Command csmtree checks and exports the CSM fee reward Merkle tree.
//
// Usage:
//
//	csmtree check   [flags]   verify the latest distribution against the previous one
//	csmtree dump    [flags]   write tree.json and proofs.json for the latest tree
//	csmtree verify  --tree FILE --operator ID [--root HEX]
//	csmtree version
//
// Configuration is read from an optional TOML file (--config) and the
// environment (RPC_URL, DISTRIBUTOR_ADDRESS, GW3_ACCESS_KEY, GW3_SECRET_KEY,
// IPFS_GATEWAY, LOG_LEVEL, GITHUB_OUTPUT). Flags override both.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=abc1234"
var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the actual entry point, returning an exit code. Accepts CLI
// arguments (without the program name) so it can be tested in isolation.
func run(args []string) int {
	return runWith(args, os.Stdout, os.Stderr)
}

func runWith(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	fmt.Fprintf(stderr, "error: %v\n", err)
	return 1
}

// exitError ends the command with code once its cause has been reported.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

var errFailed = &exitError{code: 1}
