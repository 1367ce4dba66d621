package syncmgr

import (
	"encoding/json"
	"time"

	"github.com/nyxveil/corona/internal/ports"
)

// SyncState is the authoritative snapshot of emotion, voice parameters,
// recognizer and speaking flags, and the monotonic generation counter
// (§3). The zero value is not meaningful; use [defaultState].
type SyncState struct {
	Emotion          ports.Emotion
	VoiceParams      ports.VoiceParams
	RecognizerActive bool
	IsSpeaking       bool
	Generation       uint64
	Timestamp        time.Time

	// OverrideActive records whether an [OverrideReason] relaxes the
	// emotion-voice invariant (§4.4). Not part of the wire format's
	// equality contract beyond round-tripping faithfully.
	OverrideActive bool
	OverrideReason string

	// Bidirectional marks an explicit window during which
	// RecognizerActive and IsSpeaking may both be true (§3).
	Bidirectional bool
}

// defaultState returns the Sync Manager's reset target (§4.4 force_sync):
// Calm, canonical Calm params, recognizer inactive, not speaking.
func defaultState(now time.Time) SyncState {
	return SyncState{
		Emotion:          ports.Calm,
		VoiceParams:      CanonicalParams(ports.Calm),
		RecognizerActive: false,
		IsSpeaking:       false,
		Generation:       0,
		Timestamp:        now,
	}
}

// wireState is the JSON-serializable shape of SyncState, used by
// MarshalBinary/UnmarshalBinary so that round-tripping produces an equal
// value (§6, §8).
type wireState struct {
	Emotion          int               `json:"emotion"`
	VoiceParams      ports.VoiceParams `json:"voice_params"`
	RecognizerActive bool              `json:"recognizer_active"`
	IsSpeaking       bool              `json:"is_speaking"`
	Generation       uint64            `json:"generation"`
	Timestamp        time.Time         `json:"timestamp"`
	OverrideActive   bool              `json:"override_active"`
	OverrideReason   string            `json:"override_reason,omitempty"`
	Bidirectional    bool              `json:"bidirectional"`
}

// MarshalBinary implements encoding.BinaryMarshaler. The wire format is
// JSON; byte-for-byte identity is not required, only that
// Unmarshal(Marshal(s)) == s (§6).
func (s SyncState) MarshalBinary() ([]byte, error) {
	w := wireState{
		Emotion:          int(s.Emotion),
		VoiceParams:      s.VoiceParams,
		RecognizerActive: s.RecognizerActive,
		IsSpeaking:       s.IsSpeaking,
		Generation:       s.Generation,
		Timestamp:        s.Timestamp,
		OverrideActive:   s.OverrideActive,
		OverrideReason:   s.OverrideReason,
		Bidirectional:    s.Bidirectional,
	}
	return json.Marshal(w)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (s *SyncState) UnmarshalBinary(data []byte) error {
	var w wireState
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.Emotion = ports.Emotion(w.Emotion)
	s.VoiceParams = w.VoiceParams
	s.RecognizerActive = w.RecognizerActive
	s.IsSpeaking = w.IsSpeaking
	s.Generation = w.Generation
	s.Timestamp = w.Timestamp
	s.OverrideActive = w.OverrideActive
	s.OverrideReason = w.OverrideReason
	s.Bidirectional = w.Bidirectional
	return nil
}

// epsilon is the tolerance for voice-parameter/canonical-mapping comparison
// (§3, §8 property 1).
const epsilon = 1e-3

// CanonicalParams returns the canonical voice parameters for e per the
// mapping table in §4.4. Vibrato and reverb default to 0.
func CanonicalParams(e ports.Emotion) ports.VoiceParams {
	switch e {
	case ports.Calm:
		return ports.VoiceParams{PitchSemitones: 0.0, Rate: 1.00, GainDB: 0.0}
	case ports.Happy:
		return ports.VoiceParams{PitchSemitones: 2.0, Rate: 1.10, GainDB: 0.0}
	case ports.Excited:
		return ports.VoiceParams{PitchSemitones: 4.0, Rate: 1.20, GainDB: 2.0}
	case ports.Focused:
		return ports.VoiceParams{PitchSemitones: 0.0, Rate: 0.95, GainDB: -1.0}
	case ports.Playful:
		return ports.VoiceParams{PitchSemitones: 3.0, Rate: 1.10, GainDB: 1.0}
	case ports.Determined:
		return ports.VoiceParams{PitchSemitones: 0.0, Rate: 1.05, GainDB: 0.0}
	case ports.Sad:
		return ports.VoiceParams{PitchSemitones: -2.0, Rate: 0.90, GainDB: -1.0}
	case ports.Surprised:
		return ports.VoiceParams{PitchSemitones: 3.0, Rate: 1.15, GainDB: 0.0}
	default:
		return CanonicalParams(ports.Calm)
	}
}

// matchesCanonical reports whether params equals the canonical mapping for
// e within epsilon, ignoring vibrato/reverb (which default to 0 but may be
// legitimately overridden independent of emotion).
func matchesCanonical(e ports.Emotion, params ports.VoiceParams) bool {
	want := CanonicalParams(e)
	return approxEqual(params.PitchSemitones, want.PitchSemitones) &&
		approxEqual(params.Rate, want.Rate) &&
		approxEqual(params.GainDB, want.GainDB)
}

func approxEqual(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= epsilon
}
