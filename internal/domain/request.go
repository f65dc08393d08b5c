package domain

// RequestSource records which intake path produced a Request. Structured
// commands and free-text messages carry different parameter defaults; the
// defaults are resolved once at intake and never re-interpreted downstream.
type RequestSource string

const (
	SourceCommand RequestSource = "command"
	SourceMessage RequestSource = "message"
)

// Request is a user's normalized intent to generate or edit an image.
// It is immutable once constructed by the intake layer.
type Request struct {
	Kind   JobKind
	Source RequestSource

	Owner  string // requester identity
	Origin Origin

	Prompt         string
	NegativePrompt string

	Width    int
	Height   int
	Steps    int
	CFGScale float64
	Seed     *int64

	// Image carries the source bytes for Edit requests. Empty for Generate
	// unless the request re-edits a prior job's output.
	Image         []byte
	ImageFilename string

	// SourceJobID references a prior succeeded job whose result should be
	// used as this request's input image (re-edit via reply).
	SourceJobID string
}
