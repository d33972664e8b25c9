package avatar

import "github.com/normanking/cortexvoice/internal/audio"

// Expression is a named resting pose for the face rig
type Expression struct {
	Name    string
	Weights Weights
}

func makeExpression(name string, channels map[Shape]float32) Expression {
	e := Expression{Name: name}
	for idx, v := range channels {
		e.Weights.Set(idx, v)
	}
	return e
}

var (
	// Neutral is the resting face
	Neutral = makeExpression("neutral", nil)

	// Attentive leans in while the microphone is hot
	Attentive = makeExpression("attentive", map[Shape]float32{
		BrowInnerUp: 0.25,
		BrowOuterUp: 0.15,
		EyeWide:     0.2,
		MouthSmile:  0.1,
	})

	// Pondering plays while a clip is out for processing
	Pondering = makeExpression("pondering", map[Shape]float32{
		BrowDown:    0.2,
		BrowInnerUp: 0.35,
		EyeSquint:   0.25,
		LookUp:      0.3,
		MouthPress:  0.3,
		MouthPucker: 0.1,
	})

	// Animated carries the reply playback
	Animated = makeExpression("animated", map[Shape]float32{
		BrowOuterUp: 0.2,
		EyeWide:     0.1,
		CheekSquint: 0.15,
		MouthSmile:  0.25,
	})
)

// expressionFor maps the assistant status onto a target pose
func expressionFor(status audio.Status) Expression {
	switch status {
	case audio.StatusListening:
		return Attentive
	case audio.StatusThinking, audio.StatusProcessing:
		return Pondering
	case audio.StatusSpeaking:
		return Animated
	default:
		return Neutral
	}
}
