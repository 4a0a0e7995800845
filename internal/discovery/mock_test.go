package discovery

import (
	"context"
	"strings"

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
	return &anthropic.MessageResponse{Content: []anthropic.ContentBlock{{Type: "text", Text: s}}}
}

// onStage matches requests by the system prompt of a discovery call.
func onStage(marker string) any {
	return mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return len(req.System) > 0 && strings.Contains(req.System[0].Text, marker)
	})
}
