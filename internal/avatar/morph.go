package avatar

// Shape indexes one morph channel on the face rig. The web renderer
// keys its morph targets by the same camelCase names.
type Shape int

const (
	BrowDown Shape = iota
	BrowInnerUp
	BrowOuterUp
	Blink
	EyeSquint
	EyeWide
	LookLeft
	LookRight
	LookUp
	LookDown
	CheekSquint
	JawOpen
	MouthClose
	MouthFunnel
	MouthPucker
	MouthSmile
	MouthFrown
	MouthPress
	MouthStretch
	ShapeCount
)

var ShapeNames = [ShapeCount]string{
	"browDown",
	"browInnerUp",
	"browOuterUp",
	"blink",
	"eyeSquint",
	"eyeWide",
	"lookLeft",
	"lookRight",
	"lookUp",
	"lookDown",
	"cheekSquint",
	"jawOpen",
	"mouthClose",
	"mouthFunnel",
	"mouthPucker",
	"mouthSmile",
	"mouthFrown",
	"mouthPress",
	"mouthStretch",
}

// Weights holds one value per shape, clamped to [0, 1]
type Weights [ShapeCount]float32

func (w *Weights) Set(idx Shape, value float32) {
	w[idx] = clamp(value, 0, 1)
}

func (w *Weights) Get(idx Shape) float32 {
	return w[idx]
}

func (w *Weights) Raise(idx Shape, amount float32) {
	w.Set(idx, w[idx]+amount)
}

func (w *Weights) Reset() {
	for i := range w {
		w[i] = 0
	}
}

// Lerp moves toward target by t
func (w Weights) Lerp(target Weights, t float32) Weights {
	if t <= 0 {
		return w
	}
	if t >= 1 {
		return target
	}
	var out Weights
	for i := range w {
		out[i] = w[i] + (target[i]-w[i])*t
	}
	return out
}

func (w Weights) Scale(factor float32) Weights {
	var out Weights
	for i := range w {
		out[i] = clamp(w[i]*factor, 0, 1)
	}
	return out
}

// Map renders the weights keyed by shape name, dropping zero channels
func (w Weights) Map() map[string]float32 {
	out := make(map[string]float32, ShapeCount)
	for i, v := range w {
		if v > 0.001 {
			out[ShapeNames[i]] = v
		}
	}
	return out
}

// ShapeFromName resolves a renderer shape name, -1 when unknown
func ShapeFromName(name string) Shape {
	for i, n := range ShapeNames {
		if n == name {
			return Shape(i)
		}
	}
	return -1
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
