package notecheck

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"

	"github.com/eni9889/ez-tracking-board-sub000/internal/platform/ezderm"
)

// Fingerprint algorithms. A deployment picks exactly one; fingerprints from
// different algorithms are never compared against each other.
const (
	AlgoSHA256 = "sha256"
	AlgoFNV32  = "fnv32"
)

// Fingerprinter computes deterministic digests over a note's
// clinically-relevant fields in a fixed canonical order, so independent runs
// agree byte for byte.
type Fingerprinter struct {
	algo string
}

// NewFingerprinter creates a Fingerprinter. AlgoFNV32 is a weak fallback for
// local development only; it carries no dedup guarantee.
func NewFingerprinter(algo string) (*Fingerprinter, error) {
	if algo != AlgoSHA256 && algo != AlgoFNV32 {
		return nil, fmt.Errorf("unknown fingerprint algorithm %q", algo)
	}
	return &Fingerprinter{algo: algo}, nil
}

// Fingerprint digests the note content. Field order is fixed; a separator
// that cannot occur in note text keeps adjacent fields from colliding.
func (f *Fingerprinter) Fingerprint(note *ezderm.ProgressNote) string {
	canonical := note.ChiefComplaint + "\x1f" +
		note.Subjective + "\x1f" +
		note.Objective + "\x1f" +
		note.Assessment + "\x1f" +
		note.Plan

	if f.algo == AlgoFNV32 {
		h := fnv.New32a()
		h.Write([]byte(canonical))
		return fmt.Sprintf("fnv32:%08x", h.Sum32())
	}

	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
