package models

type PartType string

const (
	PartTypeText      PartType = "text"
	PartTypeReasoning PartType = "reasoning"
	PartTypeToolCall  PartType = "tool-call"
	PartTypeImage     PartType = "image"
	PartTypeAudio     PartType = "audio"
	PartTypeVideo     PartType = "video"
	PartTypeFile      PartType = "file"
)

// ContentPart is one typed segment of a message's content.
// The set of implementations is closed: TextPart, ReasoningPart,
// ToolCallPart and MediaPart.
type ContentPart interface {
	Type() PartType
	// IsEmpty reports whether the part has no renderable payload yet.
	IsEmpty() bool
	Clone() ContentPart
	contentPart()
}

type TextPart struct {
	Text string
}

func (p *TextPart) Type() PartType     { return PartTypeText }
func (p *TextPart) IsEmpty() bool      { return p.Text == "" }
func (p *TextPart) Clone() ContentPart { c := *p; return &c }
func (p *TextPart) contentPart()       {}

type ReasoningPart struct {
	Text string
}

func (p *ReasoningPart) Type() PartType     { return PartTypeReasoning }
func (p *ReasoningPart) IsEmpty() bool      { return p.Text == "" }
func (p *ReasoningPart) Clone() ContentPart { c := *p; return &c }
func (p *ReasoningPart) contentPart()       {}

// ToolCallPart accumulates a tool invocation. ArgsText is the raw,
// possibly partial, serialized argument payload.
type ToolCallPart struct {
	ToolCallID string
	ToolName   string
	ArgsText   string
	Result     *string
}

func (p *ToolCallPart) Type() PartType { return PartTypeToolCall }
func (p *ToolCallPart) IsEmpty() bool  { return p.ToolName == "" }
func (p *ToolCallPart) Clone() ContentPart {
	c := *p
	if p.Result != nil {
		r := *p.Result
		c.Result = &r
	}
	return &c
}
func (p *ToolCallPart) contentPart() {}

// SetResult attaches a tool result, replacing any previous one.
func (p *ToolCallPart) SetResult(result string) {
	p.Result = &result
}

// MediaPart references an image, audio, video or file attachment by URL.
type MediaPart struct {
	Kind     PartType
	URL      string
	MimeType string
	Filename string
}

func (p *MediaPart) Type() PartType     { return p.Kind }
func (p *MediaPart) IsEmpty() bool      { return p.URL == "" }
func (p *MediaPart) Clone() ContentPart { c := *p; return &c }
func (p *MediaPart) contentPart()       {}

// IsMediaType reports whether t is one of the attachment part types.
func IsMediaType(t PartType) bool {
	switch t {
	case PartTypeImage, PartTypeAudio, PartTypeVideo, PartTypeFile:
		return true
	}
	return false
}

// CloneParts deep-copies a content slice.
func CloneParts(parts []ContentPart) []ContentPart {
	if parts == nil {
		return nil
	}
	out := make([]ContentPart, len(parts))
	for i, p := range parts {
		out[i] = p.Clone()
	}
	return out
}

// VisibleParts returns clones of the parts that carry a payload.
func VisibleParts(parts []ContentPart) []ContentPart {
	out := make([]ContentPart, 0, len(parts))
	for _, p := range parts {
		if !p.IsEmpty() {
			out = append(out, p.Clone())
		}
	}
	return out
}
