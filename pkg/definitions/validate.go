package definitions

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"

	"github.com/orchon/orchon/pkg/models"
)

// Validate checks a definition without persisting it: struct-level rules,
// graph shape, per-type requirements and per-step config schemas. The
// result carries structured errors and non-fatal warnings.
func (s *Service) Validate(def *models.WorkflowDefinition) *ValidationResult {
	result := &ValidationResult{}

	s.validateStruct(def, result)

	if len(def.Steps) == 0 {
		return result
	}

	s.validateSteps(def, result)
	s.validateReachability(def, result)
	s.validateDefaultVariables(def, result)

	return result
}

func (s *Service) validateStruct(def *models.WorkflowDefinition, result *ValidationResult) {
	err := s.validate.Struct(def)
	if err == nil {
		return
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		result.addError(CodeInvalidField, "", err.Error())

		return
	}

	for _, fe := range fieldErrors {
		result.addError(CodeInvalidField, "",
			fmt.Sprintf("field %s failed on the %q rule", fe.Namespace(), fe.Tag()))
	}
}

func (s *Service) validateSteps(def *models.WorkflowDefinition, result *ValidationResult) {
	seen := make(map[string]bool, len(def.Steps))

	for i := range def.Steps {
		step := &def.Steps[i]

		if seen[step.ID] {
			result.addError(CodeDuplicateStepID, step.ID,
				fmt.Sprintf("step ID %q is declared more than once", step.ID))
		}

		seen[step.ID] = true

		if step.Type != "" && !s.registry.Registered(step.Type) {
			result.addError(CodeUnknownStepType, step.ID,
				fmt.Sprintf("no handler registered for step type %q", step.Type))
		}

		for _, edge := range step.Outgoing {
			if edge.TargetStepID == "" {
				continue
			}

			if _, ok := def.StepByID(edge.TargetStepID); !ok {
				result.addError(CodeUnknownEdgeTarget, step.ID,
					fmt.Sprintf("edge targets unknown step %q", edge.TargetStepID))
			}

			s.validateConditions(step.ID, edge.Conditions, result)
		}

		switch step.Type {
		case models.StepTypeLoop:
			s.validateLoopStep(step, result)
		case models.StepTypeParallel:
			s.validateParallelStep(def, step, result)
		}

		s.validateStepConfig(step, result)
	}
}

func (s *Service) validateConditions(stepID string, conditions []models.Condition, result *ValidationResult) {
	for _, cond := range conditions {
		if cond.Operator == "" {
			continue
		}

		if !slices.Contains(models.ConditionOperators(), cond.Operator) {
			result.addError(CodeInvalidCondition, stepID,
				fmt.Sprintf("unknown condition operator %q on field %q", cond.Operator, cond.Field))
		}
	}
}

// validateLoopStep requires a termination bound: an iteration cap, or a
// guard on the loop-back edge so the loop exits when its condition turns
// false.
func (s *Service) validateLoopStep(step *models.Step, result *ValidationResult) {
	if step.MaxIterations() > 0 {
		return
	}

	for _, edge := range step.Outgoing {
		if edge.Guarded() {
			return
		}
	}

	result.addError(CodeLoopUnbounded, step.ID,
		"loop step declares neither max_iterations nor a guarded edge")
}

func (s *Service) validateParallelStep(def *models.WorkflowDefinition, step *models.Step, result *ValidationResult) {
	branches := make([]string, 0, len(step.Outgoing))

	for _, edge := range step.Outgoing {
		if edge.ParallelBranch {
			branches = append(branches, edge.TargetStepID)
		}
	}

	if len(branches) == 0 {
		for _, edge := range step.Outgoing {
			branches = append(branches, edge.TargetStepID)
		}
	}

	if len(branches) == 0 {
		result.addError(CodeParallelNoBranch, step.ID, "parallel step declares no branches")

		return
	}

	joinStepID := step.JoinStepID()
	if joinStepID == "" {
		result.addError(CodeParallelNoJoin, step.ID, "parallel step declares no join_step_id")

		return
	}

	if _, ok := def.StepByID(joinStepID); !ok {
		result.addError(CodeUnknownEdgeTarget, step.ID,
			fmt.Sprintf("join_step_id targets unknown step %q", joinStepID))

		return
	}

	for _, branch := range branches {
		if !reaches(def, branch, joinStepID) {
			result.addError(CodeJoinUnreachable, step.ID,
				fmt.Sprintf("join step %q is not reachable from branch %q", joinStepID, branch))
		}
	}
}

func (s *Service) validateStepConfig(step *models.Step, result *ValidationResult) {
	schema := s.registry.Schema(step.Type)
	if schema == nil {
		return
	}

	schemaLoader := gojsonschema.NewGoLoader(schema)
	dataLoader := gojsonschema.NewGoLoader(models.MapToAny(step.Config))

	res, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		result.addError(CodeInvalidConfig, step.ID,
			fmt.Sprintf("config schema validation failed: %v", err))

		return
	}

	for _, desc := range res.Errors() {
		result.addError(CodeInvalidConfig, step.ID, desc.String())
	}
}

// validateReachability flags steps the entry step can never reach.
func (s *Service) validateReachability(def *models.WorkflowDefinition, result *ValidationResult) {
	start := def.StartStep()
	if start == nil {
		return
	}

	visited := make(map[string]bool, len(def.Steps))
	walk(def, start.ID, visited)

	for i := range def.Steps {
		if !visited[def.Steps[i].ID] {
			result.addError(CodeUnreachableStep, def.Steps[i].ID,
				fmt.Sprintf("step %q is not reachable from the entry step", def.Steps[i].ID))
		}
	}
}

// validateDefaultVariables warns on default variables nothing references and
// on defaults that collide with reserved variables.
func (s *Service) validateDefaultVariables(def *models.WorkflowDefinition, result *ValidationResult) {
	for name := range def.DefaultVariables {
		if name == models.LoopCounterVariable {
			result.addWarning(CodeReservedVariable, "",
				fmt.Sprintf("default variable %q collides with the reserved loop counter", name))

			continue
		}

		if !variableReferenced(def, name) {
			result.addWarning(CodeUnusedDefaultVariable, "",
				fmt.Sprintf("default variable %q is never referenced", name))
		}
	}
}

func variableReferenced(def *models.WorkflowDefinition, name string) bool {
	for i := range def.Steps {
		step := &def.Steps[i]

		for _, edge := range step.Outgoing {
			for _, cond := range edge.Conditions {
				if cond.Field == name {
					return true
				}
			}
		}

		for _, value := range step.Config {
			if str, ok := value.AsString(); ok && strings.Contains(str, name) {
				return true
			}
		}
	}

	return false
}

// walk marks every step reachable from the given step ID, following edges
// and declared join steps.
func walk(def *models.WorkflowDefinition, stepID string, visited map[string]bool) {
	if visited[stepID] {
		return
	}

	visited[stepID] = true

	step, ok := def.StepByID(stepID)
	if !ok {
		return
	}

	for _, edge := range step.Outgoing {
		walk(def, edge.TargetStepID, visited)
	}

	if joinStepID := step.JoinStepID(); joinStepID != "" {
		walk(def, joinStepID, visited)
	}
}

// reaches reports whether target is reachable from the step ID.
func reaches(def *models.WorkflowDefinition, stepID, target string) bool {
	visited := make(map[string]bool, len(def.Steps))
	walk(def, stepID, visited)

	return visited[target]
}
