package ports

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmotionStringKnownValues(t *testing.T) {
	assert.Equal(t, "calm", Calm.String())
	assert.Equal(t, "surprised", Surprised.String())
	assert.Equal(t, "unknown", Emotion(-1).String())
	assert.Equal(t, "unknown", Emotion(99).String())
}

func TestEmotionValid(t *testing.T) {
	assert.True(t, Calm.Valid())
	assert.True(t, Surprised.Valid())
	assert.False(t, Emotion(-1).Valid())
	assert.False(t, Emotion(8).Valid())
}
