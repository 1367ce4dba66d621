package contextpg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nyxveil/corona/internal/ports"
)

func TestVectorBytesRoundTripsLength(t *testing.T) {
	v := []float32{1.5, -2.25, 0}
	b := vectorBytes(v)
	assert.Len(t, b, len(v)*4)
}

func TestFingerprintIsDeterministic(t *testing.T) {
	c := ports.Context{
		ActivityTag:      "exploring",
		EmotionalSummary: []byte{1, 2, 3},
		RecentInteractions: []ports.InteractionSummary{
			{Summary: "said hello", Timestamp: time.Unix(0, 0)},
		},
	}

	a := fingerprint(c)
	b := fingerprint(c)
	assert.Equal(t, a, b)
	assert.LessOrEqual(t, len(a), 64)
}

func TestFingerprintDiffersOnContentChange(t *testing.T) {
	base := ports.Context{ActivityTag: "exploring"}
	changed := ports.Context{ActivityTag: "resting"}

	assert.NotEqual(t, fingerprint(base), fingerprint(changed))
}
