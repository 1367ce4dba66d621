package autonomy

import "github.com/nyxveil/corona/internal/ports"

// affinityMatrix is the fixed, deterministic emotion→action affinity table
// required by §4.5's priority function. Values are in [-1,1]; a negative
// value makes an action less likely without outright forbidding it (that is
// [forbidden]'s job).
var affinityMatrix = [8][4]float64{
	ports.Calm:       {0.6, 0.5, 0.7, 0.5},
	ports.Happy:      {0.9, 0.8, 0.6, 0.6},
	ports.Excited:    {0.8, 0.6, 0.8, 0.4},
	ports.Focused:    {0.3, 0.4, 0.2, 0.9},
	ports.Playful:    {0.9, 0.5, 0.9, 0.3},
	ports.Determined: {0.5, 0.6, 0.4, 0.8},
	ports.Sad:        {-0.8, 0.2, -0.5, 0.1},
	ports.Surprised:  {0.4, 0.3, 0.7, 0.2},
}

// actionIndex maps an ActionKind onto affinityMatrix's second dimension.
// ActionIdle never reaches emotionAffinity (it is handled before candidate
// enumeration), so it has no column.
func actionIndex(k ports.ActionKind) (int, bool) {
	switch k {
	case ports.ActionStartConversation:
		return 0, true
	case ports.ActionShareKnowledge:
		return 1, true
	case ports.ActionExpressEmotion:
		return 2, true
	case ports.ActionLearnSkill:
		return 3, true
	default:
		return 0, false
	}
}

// emotionAffinity returns the fixed, deterministic affinity of action under
// emotion (§4.5 priority function term w_e).
func emotionAffinity(e ports.Emotion, action ports.ActionKind) float64 {
	idx, ok := actionIndex(action)
	if !e.Valid() || !ok {
		return 0
	}
	return affinityMatrix[e][idx]
}

// forbidden is the closed emotion/action permission table (§4.5 step 5):
// actions not permitted under the current emotion.
var forbidden = map[ports.Emotion]map[ports.ActionKind]bool{
	ports.Sad: {
		ports.ActionStartConversation: true,
	},
}

// permitted reports whether action may be validated under emotion.
func permitted(e ports.Emotion, k ports.ActionKind) bool {
	if m, ok := forbidden[e]; ok {
		return !m[k]
	}
	return true
}
