package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/Mindburn-Labs/verity/pkg/contracts"
	"github.com/Mindburn-Labs/verity/pkg/store"
)

// runReceiptsCmd implements `verity receipts`: list stored artifact receipts
// or show one by hash, re-verifying its signature on the way out.
func runReceiptsCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("receipts", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		show       string
		artifactID string
		limit      int
		jsonOutput bool
	)
	cmd.StringVar(&show, "show", "", "Receipt hash to display in full")
	cmd.StringVar(&artifactID, "artifact", "", "List only receipts for this artifact id")
	cmd.IntVar(&limit, "limit", 20, "Maximum receipts to list")
	cmd.BoolVar(&jsonOutput, "json", false, "Output as JSON")

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

	if show != "" {
		return showReceipt(ctx, rt, show, jsonOutput, stdout, stderr)
	}

	var list []*contracts.ArtifactReceipt
	if artifactID != "" {
		list, err = rt.receipts.ListArtifactsByID(ctx, artifactID)
	} else {
		list, err = rt.receipts.ListArtifacts(ctx, limit)
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(list, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}
	if len(list) == 0 {
		_, _ = fmt.Fprintln(stdout, "No receipts stored.")
		return 0
	}
	for _, r := range list {
		_, _ = fmt.Fprintf(stdout, "%s  %s@%s  %s\n",
			r.ReceiptHash, r.ArtifactID, r.Version, r.Timestamp.UTC().Format(time.RFC3339))
	}
	return 0
}

func showReceipt(ctx context.Context, rt *runtime, hash string, jsonOutput bool, stdout, stderr io.Writer) int {
	r, err := rt.receipts.GetArtifactByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_, _ = fmt.Fprintf(stderr, "Error: no receipt with hash %s\n", hash)
			return 1
		}
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	valid := rt.rengine.VerifyArtifact(r)
	if jsonOutput {
		data, _ := json.MarshalIndent(struct {
			Receipt        any  `json:"receipt"`
			SignatureValid bool `json:"signatureValid"`
		}{r, valid}, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		_, _ = fmt.Fprintf(stdout, "Receipt:   %s\n", r.ReceiptHash)
		_, _ = fmt.Fprintf(stdout, "Artifact:  %s@%s\n", r.ArtifactID, r.Version)
		_, _ = fmt.Fprintf(stdout, "Root:      %s\n", hex.EncodeToString(r.Root))
		_, _ = fmt.Fprintf(stdout, "Signer:    %s\n", hex.EncodeToString(r.SignerPubkey))
		_, _ = fmt.Fprintf(stdout, "Timestamp: %s\n", r.Timestamp.UTC().Format(time.RFC3339))
		_, _ = fmt.Fprintf(stdout, "Signature: valid=%v\n", valid)
	}

	if !valid {
		return 1
	}
	return 0
}
