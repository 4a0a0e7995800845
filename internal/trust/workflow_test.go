package trust

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/converter"
	"go.temporal.io/sdk/testsuite"

	"github.com/sells-group/product-scout/internal/model"
	"github.com/sells-group/product-scout/internal/store"
)

type mockRecomputer struct{ mock.Mock }

func (m *mockRecomputer) Recompute(ctx context.Context, productID string) (*model.TrustScoreRecord, error) {
	args := m.Called(ctx, productID)
	rec, _ := args.Get(0).(*model.TrustScoreRecord)
	return rec, args.Error(1)
}

func TestWorkflowID(t *testing.T) {
	assert.Equal(t, "trust-score-abc", WorkflowID("abc"))
}

func TestRecomputeTrustScoreWorkflow(t *testing.T) {
	var s testsuite.WorkflowTestSuite
	env := s.NewTestWorkflowEnvironment()

	rc := new(mockRecomputer)
	rc.On("Recompute", mock.Anything, "p1").Return(&model.TrustScoreRecord{
		ProductID:  "p1",
		TrustScore: 75.86,
		Metadata:   model.TrustMetadata{FormulaVersion: "1.0+abcd1234"},
	}, nil).Once()
	Register(env, &Activities{Service: rc})

	env.ExecuteWorkflow(RecomputeTrustScoreWorkflow, "p1")

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var out RecomputeOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Equal(t, RecomputeOutput{ProductID: "p1", TrustScore: 75.86, FormulaVersion: "1.0+abcd1234"}, out)
	rc.AssertExpectations(t)
}

func TestRecomputeTrustScoreWorkflow_RetriesTransientFailure(t *testing.T) {
	var s testsuite.WorkflowTestSuite
	env := s.NewTestWorkflowEnvironment()

	rc := new(mockRecomputer)
	rc.On("Recompute", mock.Anything, "p1").Return(nil, eris.New("database is locked")).Once()
	rc.On("Recompute", mock.Anything, "p1").Return(&model.TrustScoreRecord{ProductID: "p1", TrustScore: 50}, nil).Once()
	Register(env, &Activities{Service: rc})

	env.ExecuteWorkflow(RecomputeTrustScoreWorkflow, "p1")

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var out RecomputeOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Equal(t, 50.0, out.TrustScore)
	rc.AssertNumberOfCalls(t, "Recompute", 2)
}

func TestRecomputeTrustScoreWorkflow_UnknownProductNotRetried(t *testing.T) {
	var s testsuite.WorkflowTestSuite
	env := s.NewTestWorkflowEnvironment()

	rc := new(mockRecomputer)
	rc.On("Recompute", mock.Anything, "gone").
		Return(nil, eris.Wrap(store.ErrNotFound, "get product gone")).Once()
	Register(env, &Activities{Service: rc})

	env.ExecuteWorkflow(RecomputeTrustScoreWorkflow, "gone")

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
	rc.AssertNumberOfCalls(t, "Recompute", 1)
}

func TestRecomputeTrustScoreWorkflow_RequestDuringRunRecomputesAgain(t *testing.T) {
	var s testsuite.WorkflowTestSuite
	env := s.NewTestWorkflowEnvironment()

	rc := new(mockRecomputer)
	rc.On("Recompute", mock.Anything, "p1").Return(&model.TrustScoreRecord{ProductID: "p1", TrustScore: 40}, nil).Once()
	rc.On("Recompute", mock.Anything, "p1").Return(&model.TrustScoreRecord{ProductID: "p1", TrustScore: 60}, nil).Once()
	Register(env, &Activities{Service: rc})

	starts := 0
	env.SetOnActivityStartedListener(func(_ *activity.Info, _ context.Context, _ converter.EncodedValues) {
		starts++
		if starts == 1 {
			// New reviews land after the first pass has read its inputs.
			env.SignalWorkflow(SignalRecompute, nil)
		}
	})

	env.ExecuteWorkflow(RecomputeTrustScoreWorkflow, "p1")

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var out RecomputeOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Equal(t, 60.0, out.TrustScore)
	assert.Equal(t, 2, starts)
	rc.AssertNumberOfCalls(t, "Recompute", 2)
}

func TestRecomputeTrustScoreWorkflow_BufferedRequestsCollapse(t *testing.T) {
	var s testsuite.WorkflowTestSuite
	env := s.NewTestWorkflowEnvironment()

	rc := new(mockRecomputer)
	rc.On("Recompute", mock.Anything, "p1").Return(&model.TrustScoreRecord{ProductID: "p1", TrustScore: 55}, nil).Twice()
	Register(env, &Activities{Service: rc})

	starts := 0
	env.SetOnActivityStartedListener(func(_ *activity.Info, _ context.Context, _ converter.EncodedValues) {
		starts++
		if starts == 1 {
			for range 5 {
				env.SignalWorkflow(SignalRecompute, nil)
			}
		}
	})

	env.ExecuteWorkflow(RecomputeTrustScoreWorkflow, "p1")

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	rc.AssertNumberOfCalls(t, "Recompute", 2)
}
