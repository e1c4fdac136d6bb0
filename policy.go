package memmap

import "fmt"

// Inference selects how much access a section asks for when the descriptor's
// own access mode is unknown.
type Inference int

const (
	// InferEager assumes maximum access.
	InferEager Inference = iota
	// InferProbe tries from maximum access down until the host accepts.
	InferProbe
	// InferAsRequested asks for exactly what the mapping requests.
	InferAsRequested
)

func (i Inference) String() string {
	switch i {
	case InferEager:
		return "eager"
	case InferProbe:
		return "probe"
	case InferAsRequested:
		return "asreq"
	default:
		return fmt.Sprintf("Inference(%d)", int(i))
	}
}

// Policy is the configuration snapshot every operation reads.
type Policy struct {
	// Strict rejects ambiguous or malformed input (misalignment, unknown
	// advice, inconsistent sync flags, fd != -1 for anonymous mappings)
	// instead of correcting it.
	Strict bool

	// StrictMincore applies the strict residency rules to Mincore even when
	// Strict is off.
	StrictMincore bool

	ExecInference  Inference
	WriteInference Inference

	// ImageSections maps files the way the image loader does, applying the
	// protections embedded in the file and ignoring the caller's.
	ImageSections bool

	// AdviseDecommits makes MadvDontNeed offer private pages back to the host
	// (access faults until reclaimed) instead of resetting them.
	AdviseDecommits bool

	// OfferResoluteness 0..3 maps to the offer priority; 3 offers with the
	// lowest priority.
	OfferResoluteness int
}

// DefaultPolicy returns the lenient default policy.
func DefaultPolicy() Policy {
	return Policy{
		ExecInference:     InferAsRequested,
		WriteInference:    InferAsRequested,
		OfferResoluteness: 2,
	}
}

func (p Policy) validate() error {
	if p.OfferResoluteness < 0 || p.OfferResoluteness > 3 {
		return fmt.Errorf("offer resoluteness %d out of range 0..3", p.OfferResoluteness)
	}
	for _, inf := range []Inference{p.ExecInference, p.WriteInference} {
		if inf < InferEager || inf > InferAsRequested {
			return fmt.Errorf("unknown inference policy %d", int(inf))
		}
	}
	return nil
}

func (p *Policy) strictMincore() bool { return p.Strict || p.StrictMincore }
