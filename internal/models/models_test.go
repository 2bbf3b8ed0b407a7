package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type ModelsTestSuite struct {
	suite.Suite
}

func (s *ModelsTestSuite) TestPipelineStatusTerminal() {
	assert.False(s.T(), PipelineStatusPending.Terminal())
	assert.False(s.T(), PipelineStatusRunning.Terminal())
	assert.False(s.T(), PipelineStatusWaitingApproval.Terminal())
	assert.True(s.T(), PipelineStatusCompleted.Terminal())
	assert.True(s.T(), PipelineStatusFailed.Terminal())
	assert.True(s.T(), PipelineStatusAborted.Terminal())
}

func (s *ModelsTestSuite) TestStepStatusTerminal() {
	assert.False(s.T(), StepStatusPending.Terminal())
	assert.False(s.T(), StepStatusRunning.Terminal())
	assert.True(s.T(), StepStatusCompleted.Terminal())
	assert.True(s.T(), StepStatusFailed.Terminal())
	assert.True(s.T(), StepStatusSkipped.Terminal())
}

func (s *ModelsTestSuite) TestAllCoversEveryModel() {
	assert.Len(s.T(), All, 4)
}

func TestModelsTestSuite(t *testing.T) {
	suite.Run(t, new(ModelsTestSuite))
}
