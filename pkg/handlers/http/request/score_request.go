package request

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// MaxTextBytes bounds text scored over HTTP; IRC lines are far shorter.
const MaxTextBytes = 4096

type ScoreRequest struct {
	Text string `json:"text"`
}

func (r *ScoreRequest) Validate() error {
	if r.Text == "" {
		return errors.New("text is required")
	}
	if len(r.Text) > MaxTextBytes {
		return fmt.Errorf("text must be at most %d bytes", MaxTextBytes)
	}
	if !utf8.ValidString(r.Text) {
		return errors.New("text must be valid UTF-8")
	}
	return nil
}
