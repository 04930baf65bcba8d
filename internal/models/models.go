package models

// Chat roles understood by every provider
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatTurn is one message of a session transcript
type ChatTurn struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"` // ROI crop paths, only kept on the newest turn
}

// Transcript is the ordered chat history of one session
type Transcript []ChatTurn

// Clone returns a deep copy so callers can modify turns freely
func (t Transcript) Clone() Transcript {
	if t == nil {
		return Transcript{}
	}
	out := make(Transcript, len(t))
	for i, turn := range t {
		out[i] = turn
		if turn.Images != nil {
			out[i].Images = append([]string(nil), turn.Images...)
		}
	}
	return out
}

// ROI is a saved crop of a source raster
type ROI struct {
	Index int    `json:"index"`
	X1    int    `json:"x1"`
	Y1    int    `json:"y1"`
	X2    int    `json:"x2"`
	Y2    int    `json:"y2"`
	Path  string `json:"path"`
}

// Width and Height of the crop in pixels
func (r ROI) Width() int  { return r.X2 - r.X1 }
func (r ROI) Height() int { return r.Y2 - r.Y1 }
