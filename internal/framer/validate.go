package framer

const (
	// MinFrameRunes is the longest frame that is still discarded as too short
	// to hold a message and an I/Q tail.
	MinFrameRunes = 14

	// TailRunes is the width of the hex I/Q tail at the end of every frame.
	TailRunes = 16
)

// ValidFrame is a frame long enough to split into a message payload and an
// I/Q tail. Neither part has been checked for hex well-formedness.
type ValidFrame struct {
	Frame   Frame
	Payload string
	Tail    string
}

// Validate splits f into payload and tail. It reports false for frames of
// MinFrameRunes characters or fewer.
//
// The split happens TailRunes characters from the end. A frame shorter than
// TailRunes+1 characters yields an empty payload and a tail holding the whole
// text.
func Validate(f Frame) (ValidFrame, bool) {
	runes := []rune(f.Text)
	if len(runes) <= MinFrameRunes {
		return ValidFrame{}, false
	}
	split := len(runes) - TailRunes
	if split < 0 {
		split = 0
	}
	return ValidFrame{
		Frame:   f,
		Payload: string(runes[:split]),
		Tail:    string(runes[split:]),
	}, true
}
