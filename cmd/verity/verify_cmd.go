package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Mindburn-Labs/verity/pkg/fetch"
	"github.com/Mindburn-Labs/verity/pkg/manifest"
	"github.com/Mindburn-Labs/verity/pkg/verifier"
)

// runVerifyCmd implements `verity verify`.
//
// Exit codes:
//
//	0 = verification passed
//	1 = verification or policy failure
//	2 = runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		manifestPath string
		source       string
		output       string
		jsonOutput   bool
	)

	cmd.StringVar(&manifestPath, "manifest", "", "Path to signed manifest JSON (REQUIRED)")
	cmd.StringVar(&source, "source", "", "Chunk source: local file path; empty uses VERITY_FETCH_SOURCE")
	cmd.StringVar(&output, "out", "", "Destination file for verified content (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the verification report as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if manifestPath == "" || output == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --manifest and --out are required")
		return 2
	}

	ctx := context.Background()
	rt, err := newRuntime(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer rt.Close()

	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: cannot read manifest: %v\n", err)
		return 2
	}

	// Peek at the manifest for the chunk size the fetcher needs. Full
	// validation happens inside the verifier.
	m, err := manifest.Parse(raw)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	var fetcher fetch.Fetcher
	if source != "" {
		ff, err := fetch.NewFileFetcher(source, m.Metadata.ChunkSize)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		defer func() { _ = ff.Close() }()
		fetcher = ff
	} else {
		fetcher, err = fetch.NewFetcherFromEnv(ctx, m)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	}

	dest, err := os.OpenFile(output, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: cannot open output file: %v\n", err)
		return 2
	}
	defer func() { _ = dest.Close() }()

	report, verr := rt.verifier.VerifyArtifact(ctx, raw, fetcher, dest)
	printReport(stdout, report, jsonOutput)
	if verr != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", verr)
		return 1
	}
	return 0
}

// runVerifySessionCmd implements `verity verify-session`: verify an exported
// session bundle against its declared root and mint a session receipt.
func runVerifySessionCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify-session", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		sessionID  string
		bundle     string
		root       string
		seedHex    string
		jsonOutput bool
	)

	cmd.StringVar(&sessionID, "session", "", "Session identifier (REQUIRED)")
	cmd.StringVar(&bundle, "bundle", "", "Path to exported session bundle (REQUIRED)")
	cmd.StringVar(&root, "root", "", "Declared root digest, hex (REQUIRED)")
	cmd.StringVar(&seedHex, "seed", "", "Session key seed, hex (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the verification report as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if sessionID == "" || bundle == "" || root == "" || seedHex == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --session, --bundle, --root, and --seed are required")
		return 2
	}

	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: --seed is not valid hex: %v\n", err)
		return 2
	}

	ctx := context.Background()
	rt, err := newRuntime(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer rt.Close()

	data, err := os.ReadFile(bundle)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: cannot read bundle: %v\n", err)
		return 2
	}

	report, verr := rt.verifier.VerifySessionExport(ctx, sessionID, data, root, seed)
	printReport(stdout, report, jsonOutput)
	if verr != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", verr)
		return 1
	}
	return 0
}

func printReport(stdout io.Writer, report *verifier.Report, jsonOutput bool) {
	if jsonOutput {
		data, _ := json.MarshalIndent(report, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return
	}

	if report.Verified {
		_, _ = fmt.Fprintf(stdout, "✅ verification PASSED: %s\n", report.ArtifactID)
		_, _ = fmt.Fprintf(stdout, "Receipt: %s\n", report.ReceiptHash)
	} else {
		_, _ = fmt.Fprintf(stdout, "❌ verification FAILED: %s\n", report.ArtifactID)
		for _, c := range report.Checks {
			if !c.Pass {
				_, _ = fmt.Fprintf(stdout, "  - %s: %s\n", c.Name, c.Reason)
			}
		}
	}
	for _, w := range report.Warnings {
		_, _ = fmt.Fprintf(stdout, "Warning: %s\n", w)
	}
}
