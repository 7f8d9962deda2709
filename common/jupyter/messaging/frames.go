package messaging

import (
	"bytes"
	"fmt"
)

// Frame offsets relative to the "<IDS|MSG>" delimiter.
const (
	JupyterFrameStart int = iota
	JupyterFrameSignature
	JupyterFrameHeader
	JupyterFrameParentHeader
	JupyterFrameMetadata
	JupyterFrameContent
	JupyterFrameBuffers
)

var (
	JupyterFrameIDSMSG = []byte("<IDS|MSG>")
	JupyterFrameEmpty  = []byte("{}")
)

// FramingError is returned when a multipart message does not follow the Jupyter wire layout.
// Messages that fail with a FramingError are dropped without a reply.
type FramingError struct {
	Reason    string
	NumFrames int
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("%v: %s (%d frame(s))", ErrInvalidJupyterMessage, e.Reason, e.NumFrames)
}

func (e *FramingError) Unwrap() error {
	return ErrInvalidJupyterMessage
}

// JupyterFrames provides access to the frames of a Jupyter message.
// Offset is the index of the "<IDS|MSG>" delimiter; frames before it are routing identities.
// Call Validate before accessing the frames after the delimiter.
type JupyterFrames struct {
	Frames [][]byte
	Offset int
}

// NewJupyterFramesFromBytes wraps raw frames, locating the delimiter. Offset is -1 if there is none.
func NewJupyterFramesFromBytes(frames [][]byte) *JupyterFrames {
	offset := -1
	for i, frame := range frames {
		if bytes.Equal(frame, JupyterFrameIDSMSG) {
			offset = i
			break
		}
	}
	return &JupyterFrames{Frames: frames, Offset: offset}
}

// Validate checks for the delimiter and the five frames that must follow it.
func (f *JupyterFrames) Validate() error {
	if f.Offset < 0 {
		return &FramingError{Reason: "missing <IDS|MSG> delimiter", NumFrames: len(f.Frames)}
	}
	if len(f.Frames)-f.Offset < JupyterFrameBuffers {
		return &FramingError{Reason: "too few frames after delimiter", NumFrames: len(f.Frames)}
	}
	return nil
}

// Identities returns the routing frames preceding the delimiter.
func (f *JupyterFrames) Identities() [][]byte {
	if f.Offset <= 0 {
		return nil
	}
	return f.Frames[:f.Offset]
}

// Frame returns the frame at the given offset from the delimiter (see the JupyterFrame* constants).
func (f *JupyterFrames) Frame(i int) []byte {
	return f.Frames[f.Offset+i]
}

// SignedParts returns header, parent header, metadata and content.
func (f *JupyterFrames) SignedParts() [][]byte {
	return f.Frames[f.Offset+JupyterFrameHeader : f.Offset+JupyterFrameBuffers]
}

// Buffers returns the binary frames following the content frame.
func (f *JupyterFrames) Buffers() [][]byte {
	if len(f.Frames) <= f.Offset+JupyterFrameBuffers {
		return nil
	}
	return f.Frames[f.Offset+JupyterFrameBuffers:]
}

// Sign recomputes the signature frame.
func (f *JupyterFrames) Sign(signer *Signer) {
	f.Frames[f.Offset+JupyterFrameSignature] = signer.Sign(f.SignedParts()...)
}

// Verify checks the signature frame. Verification always succeeds if the signer is disabled.
func (f *JupyterFrames) Verify(signer *Signer) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if !signer.Verify(f.Frame(JupyterFrameSignature), f.SignedParts()...) {
		return ErrInvalidJupyterSignature
	}
	return nil
}

func (f *JupyterFrames) String() string {
	return FramesToString(f.Frames)
}

// FramesToString returns a printable representation of the given frames.
func FramesToString(frames [][]byte) string {
	var b bytes.Buffer
	b.WriteByte('[')
	for i, frame := range frames {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('"')
		b.Write(frame)
		b.WriteByte('"')
	}
	b.WriteByte(']')
	return b.String()
}
