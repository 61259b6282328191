package main

import (
	"fmt"
	"io"
	"os"
)

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "verify-session":
		return runVerifySessionCmd(args[2:], stdout, stderr)
	case "approve-key":
		return runApproveKeyCmd(args[2:], stdout, stderr)
	case "revoke-key":
		return runRevokeKeyCmd(args[2:], stdout, stderr)
	case "keys":
		return runKeysCmd(args[2:], stdout, stderr)
	case "receipts":
		return runReceiptsCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "verity — artifact integrity & trust engine")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage: verity <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  verify          Verify an artifact against its signed manifest")
	fmt.Fprintln(w, "  verify-session  Verify an exported session bundle")
	fmt.Fprintln(w, "  approve-key     Approve a signer key for WARN-mode trust")
	fmt.Fprintln(w, "  revoke-key      Revoke a signer key (terminal)")
	fmt.Fprintln(w, "  keys            List keys expiring inside the warning window")
	fmt.Fprintln(w, "  receipts        List or show stored receipts")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Exit codes: 0 = success, 1 = verification/policy failure, 2 = runtime error")
	fmt.Fprintln(w, "")
}
