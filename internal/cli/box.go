package cli

// Box drawing characters for chat frames and transcript listings.
const (
	BoxTopLeft     = "┌"
	BoxTopRight    = "┐"
	BoxBottomLeft  = "└"
	BoxBottomRight = "┘"
	BoxHorizontal  = "─"
	BoxVertical    = "│"
	BoxTeeRight    = "├"
	BoxTeeLeft     = "┤"
)

// Tree drawing characters
const (
	TreeBranch     = "├─"
	TreeLastBranch = "└─"
	TreeVertical   = "│ "
	TreeSpace      = "  "
)

// Status indicators
const (
	CheckMark  = "✓"
	CrossMark  = "✗"
	Bullet     = "●"
	Circle     = "○"
	SpeakerTag = "▸"
)
