//go:build property
// +build property

// Property-based tests for chunking determinism.
package chunker_test

import (
	"bytes"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/verity/pkg/chunker"
	"github.com/Mindburn-Labs/verity/pkg/contracts"
)

// TestChunkingDeterminism verifies identical bytes always chunk identically.
// Property: Hashes(data) == Hashes(data) for any data
func TestChunkingDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	c := chunker.New(contracts.ArtifactMemoryExport)

	properties.Property("chunk hashes are deterministic", prop.ForAll(
		func(data []byte) bool {
			a, err1 := c.Hashes(bytes.NewReader(data))
			b, err2 := c.Hashes(bytes.NewReader(data))
			if err1 != nil || err2 != nil {
				return false
			}
			if len(a) != len(b) {
				return false
			}
			for i := range a {
				if !bytes.Equal(a[i], b[i]) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.Property("chunks reassemble to the source", prop.ForAll(
		func(data []byte) bool {
			var rebuilt []byte
			err := c.Each(bytes.NewReader(data), func(ch chunker.Chunk) error {
				rebuilt = append(rebuilt, ch.Data...)
				return nil
			})
			return err == nil && bytes.Equal(data, rebuilt)
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}
