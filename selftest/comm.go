package selftest

import (
	"math/rand"

	"github.com/pulsefw/pulselink/wire"
)

// Communication-integrity strategy: exercises the frame codec itself by
// encoding probe frames, deliberately damaging a deterministic subset
// (single-bit corruption, truncation), and verifying that Decode flags
// every damaged frame while accepting every clean one. The strategy is
// self-driving: probes run during lifecycle updates, bounded per call.

// Injected fault kinds, carried in Sample.Expected for comm probes.
const (
	probeFaultNone int64 = iota
	probeFaultCorrupt
	probeFaultTruncate
)

// CommStats is the statistics block of a communication-integrity result.
type CommStats struct {
	ProbesSent     uint32 `cbor:"1,keyasint,omitempty"`
	FaultsInjected uint32 `cbor:"2,keyasint,omitempty"`
	// ErrorsDetected counts damaged probes the codec rejected.
	ErrorsDetected uint32 `cbor:"3,keyasint,omitempty"`
	// ErrorsUndetected counts damaged probes the codec accepted. Any
	// nonzero value fails the run regardless of validation criteria.
	ErrorsUndetected uint32 `cbor:"4,keyasint,omitempty"`
	// CleanRejected counts undamaged probes the codec rejected.
	CleanRejected uint32 `cbor:"5,keyasint,omitempty"`
}

const (
	defaultProbesPerTick = 4
	defaultCorruptEvery  = 3
	defaultTruncateEvery = 5
	probePayloadSize     = 8
)

type commState struct {
	cfg CommParams
	rng *rand.Rand

	probeIdx   uint32
	sent       uint32
	injected   uint32
	detected   uint32
	undetected uint32
	cleanBad   uint32
}

func newCommState(cfg CommParams, testID uint32) commState {
	if cfg.ProbesPerTick == 0 {
		cfg.ProbesPerTick = defaultProbesPerTick
	}
	if cfg.CorruptEvery == 0 {
		cfg.CorruptEvery = defaultCorruptEvery
	}
	if cfg.TruncateEvery == 0 {
		cfg.TruncateEvery = defaultTruncateEvery
	}

	return commState{
		cfg: cfg,
		rng: rand.New(rand.NewSource(int64(testID) + 1)),
	}
}

// runProbes performs one bounded batch of codec probes, handing each
// outcome to record.
func (s *commState) runProbes(record func(Sample)) {
	for i := uint8(0); i < s.cfg.ProbesPerTick; i++ {
		record(s.probe())
	}
}

// probe encodes one frame, optionally damages it, and checks the verdict.
func (s *commState) probe() Sample {
	s.probeIdx++
	s.sent++

	payload := make([]byte, probePayloadSize)
	for i := range payload {
		payload[i] = byte(s.rng.Intn(256))
	}

	frame := wire.NewFrame(wire.CmdPing, byte(s.probeIdx), payload)
	buf, _ := frame.Encode()

	meaningful := wire.HeaderSize + probePayloadSize

	// Fault schedule is deterministic in the probe index; truncation wins
	// when both cadences coincide.
	fault := probeFaultNone
	switch {
	case s.probeIdx%uint32(s.cfg.TruncateEvery) == 0:
		fault = probeFaultTruncate
		buf = buf[:int(s.probeIdx)%meaningful]
	case s.probeIdx%uint32(s.cfg.CorruptEvery) == 0:
		fault = probeFaultCorrupt
		buf[int(s.probeIdx)%meaningful] ^= 1 << (s.probeIdx % 8)
	}
	if fault != probeFaultNone {
		s.injected++
	}

	_, err := wire.Decode(buf)
	flagged := err != nil

	correct := flagged == (fault != probeFaultNone)
	switch {
	case fault != probeFaultNone && flagged:
		s.detected++
	case fault != probeFaultNone && !flagged:
		s.undetected++
	case fault == probeFaultNone && flagged:
		s.cleanBad++
	}

	sample := Sample{
		Expected: fault,
		OK:       correct,
	}
	if flagged {
		sample.Observed = 1
	}

	return sample
}

func (s *commState) stats() CommStats {
	return CommStats{
		ProbesSent:       s.sent,
		FaultsInjected:   s.injected,
		ErrorsDetected:   s.detected,
		ErrorsUndetected: s.undetected,
		CleanRejected:    s.cleanBad,
	}
}

// successRatePercent is the share of probes with a correct verdict.
func (s *commState) successRatePercent() float64 {
	if s.sent == 0 {
		return 0
	}

	correct := s.sent - s.undetected - s.cleanBad

	return float64(correct) / float64(s.sent) * 100
}
