package agent

import (
	"fmt"

	"github.com/ZanzyTHEbar/companion-graph/companion/workflow"
)

const (
	StepStart                           workflow.StepName = "start"
	StepOptimizeMemory                  workflow.StepName = "optimize_memory"
	StepGetLongMemory                   workflow.StepName = "get_long_memory"
	StepGenerateTalk                    workflow.StepName = "generate_talk"
	StepGenerateTalkPicture             workflow.StepName = "generate_talk_picture"
	StepGenerateDiary                   workflow.StepName = "generate_diary"
	StepGenerateDynamicCondition        workflow.StepName = "generate_dynamic_condition"
	StepGenerateDynamicConditionPicture workflow.StepName = "generate_dynamic_condition_picture"
)

// Route resolves the conditional edge out of start. A conversation's first
// turn has nothing to summarize and goes straight to retrieval.
func Route(rc workflow.RunContext) (workflow.StepName, error) {
	switch rc.Page {
	case workflow.PageOptimizeMemory:
		if rc.FirstTurn {
			return StepGetLongMemory, nil
		}
		return StepOptimizeMemory, nil
	case workflow.PageGenerateDiary:
		return StepGenerateDiary, nil
	case workflow.PageGenerateDynamicCondition:
		return StepGenerateDynamicCondition, nil
	}
	return "", fmt.Errorf("%w: page %q", workflow.ErrNoRoute, rc.Page)
}

// NewGraph builds the workflow:
//
//	start -(page)-> optimize_memory -> get_long_memory -> generate_talk -> generate_talk_picture -> end
//	start -(page)-> generate_diary -> end
//	start -(page)-> generate_dynamic_condition -> generate_dynamic_condition_picture -> end
func NewGraph(s *Steps) *workflow.Graph {
	return &workflow.Graph{
		Entry: StepStart,
		Nodes: map[workflow.StepName]workflow.StepFunc{
			StepStart:                           s.Start,
			StepOptimizeMemory:                  s.OptimizeMemory,
			StepGetLongMemory:                   s.GetLongMemory,
			StepGenerateTalk:                    s.GenerateTalk,
			StepGenerateTalkPicture:             s.GenerateTalkPicture,
			StepGenerateDiary:                   s.GenerateDiary,
			StepGenerateDynamicCondition:        s.GenerateDynamicCondition,
			StepGenerateDynamicConditionPicture: s.GenerateDynamicConditionPicture,
		},
		Edges: map[workflow.StepName]workflow.StepName{
			StepOptimizeMemory:                  StepGetLongMemory,
			StepGetLongMemory:                   StepGenerateTalk,
			StepGenerateTalk:                    StepGenerateTalkPicture,
			StepGenerateTalkPicture:             workflow.End,
			StepGenerateDiary:                   workflow.End,
			StepGenerateDynamicCondition:        StepGenerateDynamicConditionPicture,
			StepGenerateDynamicConditionPicture: workflow.End,
		},
		Branches: map[workflow.StepName]workflow.Branch{
			StepStart: {
				Route:   Route,
				Targets: []workflow.StepName{StepOptimizeMemory, StepGetLongMemory, StepGenerateDiary, StepGenerateDynamicCondition},
			},
		},
	}
}
