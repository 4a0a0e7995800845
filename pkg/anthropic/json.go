package anthropic

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// DecodeError reports a model response that is not the expected JSON shape.
type DecodeError struct {
	Raw string
	Err error
}

func (e *DecodeError) Error() string {
	return "anthropic: decode response: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Text joins the text blocks of resp.
func Text(resp *MessageResponse) string {
	if resp == nil {
		return ""
	}
	var parts []string
	for _, block := range resp.Content {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// CleanJSON strips markdown fences and surrounding prose, keeping the span
// from the first '{' to the last '}'.
func CleanJSON(text string) string {
	text = strings.TrimSpace(text)
	for _, fence := range []string{"```json", "```"} {
		if strings.HasPrefix(text, fence) {
			text = strings.TrimPrefix(text, fence)
			if idx := strings.LastIndex(text, "```"); idx >= 0 {
				text = text[:idx]
			}
			break
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

// DecodeJSON unmarshals the JSON object in resp into out. Any failure is a
// *DecodeError.
func DecodeJSON(resp *MessageResponse, out any) error {
	raw := Text(resp)
	cleaned := CleanJSON(raw)
	if cleaned == "" || !strings.HasPrefix(cleaned, "{") {
		return &DecodeError{Raw: raw, Err: eris.New("no JSON object in response")}
	}
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return &DecodeError{Raw: raw, Err: err}
	}
	return nil
}

// AskJSON sends req, logs usage under stage, and decodes the reply into out.
// Transport failures are returned wrapped; shape failures as *DecodeError.
func AskJSON(ctx context.Context, c Client, req MessageRequest, stage string, out any) error {
	resp, err := c.CreateMessage(ctx, req)
	if err != nil {
		return eris.Wrapf(err, "anthropic: %s", stage)
	}
	if resp == nil {
		return &DecodeError{Err: eris.New("empty response")}
	}
	resp.Usage.LogCost(req.Model, stage)
	return DecodeJSON(resp, out)
}

// IsDecodeError reports whether err came from an unparseable response.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return eris.As(err, &de)
}
