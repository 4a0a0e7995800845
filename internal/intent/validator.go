package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/product-scout/internal/model"
	"github.com/sells-group/product-scout/pkg/anthropic"
)

// Verdict is the sanity validator's decision.
type Verdict struct {
	Valid  bool
	Reason string
}

// Validator cross-checks compiled criteria against the original request
// with an independent model call.
type Validator struct {
	llm anthropic.Client
	cfg Config
}

// NewValidator creates a Validator.
func NewValidator(llm anthropic.Client, cfg Config) *Validator {
	return &Validator{llm: llm, cfg: cfg}
}

type validateResponse struct {
	IsValid *bool   `json:"is_valid"`
	Reason  *string `json:"reason"`
}

// Validate returns a Verdict; nil criteria are trivially valid.
func (v *Validator) Validate(ctx context.Context, userText string, criteria *model.FilterCriteria) (*Verdict, error) {
	if criteria == nil {
		return &Verdict{Valid: true}, nil
	}

	compiled, err := json.MarshalIndent(criteria, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "validator: marshal criteria")
	}

	req := anthropic.MessageRequest{
		Model:     v.cfg.Model,
		MaxTokens: v.cfg.MaxTokens,
		System:    anthropic.CachedSystem(validateSystem),
		Messages:  []anthropic.Message{{Role: "user", Content: sprintf(validateUser, userText, string(compiled))}},
	}

	var resp validateResponse
	if err := anthropic.AskJSON(ctx, v.llm, req, "validate", &resp); err != nil {
		return nil, classify(err, "could not verify the filter criteria")
	}
	if resp.IsValid == nil {
		return nil, model.ParsingFailure("could not verify the filter criteria", eris.New("validator: missing is_valid"))
	}

	out := &Verdict{Valid: *resp.IsValid}
	if resp.Reason != nil {
		out.Reason = strings.TrimSpace(*resp.Reason)
	}
	return out, nil
}

// Err converts a negative verdict into a ValidationFailure carrying the
// validator's reason verbatim.
func (v *Verdict) Err() error {
	if v == nil || v.Valid {
		return nil
	}
	msg := v.Reason
	if msg == "" {
		msg = "the compiled filter does not match the request"
	}
	return model.ValidationFailure(msg, nil)
}

func sprintf(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}
