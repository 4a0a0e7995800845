package intent

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/product-scout/pkg/anthropic"
)

type mockLLM struct {
	mock.Mock
}

func (m *mockLLM) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func textResp(s string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: s}},
	}
}

func testConfig() Config {
	return Config{
		Model:              "claude-sonnet-4-5-20250929",
		FastModel:          "claude-haiku-4-5-20251001",
		MaxTokens:          1024,
		MaxQueryLength:     2000,
		DefaultMaxProducts: 20,
		MaxMaxProducts:     100,
	}
}
