package perspective

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/valyala/fastjson"
)

// AttributeToxicity is the only Perspective attribute requested.
const AttributeToxicity = "TOXICITY"

// Result is the outcome of one scoring call. The zero value means unavailable.
type Result struct {
	Value   float64
	Present bool
}

func Unavailable() Result {
	return Result{}
}

func Present(v float64) Result {
	return Result{Value: v, Present: true}
}

type Scorer interface {
	Score(ctx context.Context, text string) Result
}

// ScorerFunc adapts a plain function to Scorer.
type ScorerFunc func(ctx context.Context, text string) Result

func (f ScorerFunc) Score(ctx context.Context, text string) Result {
	return f(ctx, text)
}

type analyzeRequest struct {
	Comment             analyzeComment      `json:"comment"`
	RequestedAttributes map[string]struct{} `json:"requestedAttributes"`
	Languages           []string            `json:"languages,omitempty"`
}

type analyzeComment struct {
	Text string `json:"text"`
}

// EncodeRequest builds the comments:analyze body for text. Text is JSON-escaped;
// invalid UTF-8 sequences are replaced with U+FFFD by the encoder.
func EncodeRequest(text string, languages []string) ([]byte, error) {
	return json.Marshal(analyzeRequest{
		Comment:             analyzeComment{Text: text},
		RequestedAttributes: map[string]struct{}{AttributeToxicity: {}},
		Languages:           languages,
	})
}

// ParseResponse extracts attributeScores.TOXICITY.summaryScore.value. The value
// is returned exactly as sent; no clamping or rounding happens here.
func ParseResponse(body []byte) (float64, error) {
	var p fastjson.Parser
	v, err := p.ParseBytes(body)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	score := v.Get("attributeScores", AttributeToxicity, "summaryScore", "value")
	if score == nil {
		return 0, fmt.Errorf("%w: missing attributeScores.%s.summaryScore.value", ErrMalformedResponse, AttributeToxicity)
	}
	if score.Type() != fastjson.TypeNumber {
		return 0, fmt.Errorf("%w: summaryScore.value is %s, not a number", ErrMalformedResponse, score.Type())
	}
	// strconv yields the correctly rounded float64 of the literal as sent
	value, err := strconv.ParseFloat(string(score.MarshalTo(nil)), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return value, nil
}
