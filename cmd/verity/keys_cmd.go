package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"
)

// runApproveKeyCmd implements `verity approve-key`. Approval is bounded: a
// key with no lifecycle record is provisioned with the default validity
// window, never indefinite trust.
func runApproveKeyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("approve-key", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var key string
	cmd.StringVar(&key, "key", "", "Hex-encoded signer public key (REQUIRED)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if key == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --key is required")
		return 2
	}

	ctx := context.Background()
	rt, err := newRuntime(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer rt.Close()

	if err := rt.trust.Approve(ctx, key); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "Key approved: %s\n", key)
	return 0
}

// runRevokeKeyCmd implements `verity revoke-key`. Revocation is terminal; a
// replacement key requires a fresh approval.
func runRevokeKeyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("revoke-key", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		key    string
		reason string
	)
	cmd.StringVar(&key, "key", "", "Hex-encoded signer public key (REQUIRED)")
	cmd.StringVar(&reason, "reason", "", "Revocation reason (REQUIRED)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if key == "" || reason == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --key and --reason are required")
		return 2
	}

	ctx := context.Background()
	rt, err := newRuntime(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer rt.Close()

	if err := rt.trust.Revoke(ctx, key, reason); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "Key revoked: %s\n", key)
	return 0
}

// runKeysCmd implements `verity keys`: list keys expiring inside the warning
// window.
func runKeysCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("keys", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	rt, err := newRuntime(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer rt.Close()

	expiring, err := rt.trust.ExpiringSoon(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if len(expiring) == 0 {
		_, _ = fmt.Fprintln(stdout, "No keys expiring inside the warning window.")
		return 0
	}
	for _, k := range expiring {
		_, _ = fmt.Fprintf(stdout, "%s  type=%s  expires=%s\n",
			k.KeyID, k.Type, k.ExpiresAt.UTC().Format(time.RFC3339))
	}
	return 0
}
