package engine

import (
	"context"
	"fmt"

	"github.com/orchon/orchon/pkg/models"
)

// forkBranches records a fork for a completed parallel step and spawns
// every branch head atomically, so siblings cannot observe a partial fork.
func (s *session) forkBranches(ctx context.Context, step *models.Step, routes []string) error {
	branchIDs := make([]string, 0, len(routes))

	for _, target := range routes {
		branchStep, ok := s.def.StepByID(target)
		if !ok {
			return s.failInstance(ctx, fmt.Sprintf("parallel branch targets unknown step %q", target), target)
		}

		si, err := s.spawn(ctx, branchStep)
		if err != nil {
			return err
		}

		branchIDs = append(branchIDs, si.ID)
	}

	if joinStepID := step.JoinStepID(); joinStepID != "" {
		if _, ok := s.def.StepByID(joinStepID); !ok {
			return s.failInstance(ctx, fmt.Sprintf("parallel step declares unknown join step %q", joinStepID), step.ID)
		}

		s.instance.Forks = append(s.instance.Forks, models.Fork{
			ParallelStepID: step.ID,
			JoinStepID:     joinStepID,
			Branches:       branchIDs,
			Policy:         step.BranchFailurePolicy(),
		})
	}

	return s.saveInstance(ctx)
}

// openFork returns the unjoined fork whose join step is the given target,
// or nil.
func (s *session) openFork(target string) *models.Fork {
	for i := range s.instance.Forks {
		fork := &s.instance.Forks[i]
		if !fork.Joined && fork.JoinStepID == target {
			return fork
		}
	}

	return nil
}

// anyOpenFork returns the most recent unjoined fork, or nil. Branch
// membership is not tracked per step, so concurrently open forks must not
// overlap; definitions express nesting by joining an inner fork before
// forking again.
func (s *session) anyOpenFork() *models.Fork {
	for i := len(s.instance.Forks) - 1; i >= 0; i-- {
		if !s.instance.Forks[i].Joined {
			return &s.instance.Forks[i]
		}
	}

	return nil
}

// branchEnded accounts a branch that finished without routing anywhere.
// Outside a fork that simply ends one path of the instance.
func (s *session) branchEnded(ctx context.Context, failed bool) error {
	fork := s.anyOpenFork()
	if fork == nil {
		return nil
	}

	return s.arriveAtJoin(ctx, fork, failed)
}

// arriveAtJoin counts one branch arrival. Once every branch has arrived the
// fork is joined: under the wait policy the join proceeds on partial
// success, and the instance fails at the join only when every branch
// failed.
func (s *session) arriveAtJoin(ctx context.Context, fork *models.Fork, failed bool) error {
	fork.Arrivals++

	if failed {
		fork.FailedBranches++
	}

	if !fork.Complete() {
		return nil
	}

	fork.Joined = true

	if fork.FailedBranches == len(fork.Branches) {
		return s.failInstance(ctx,
			fmt.Sprintf("all %d parallel branches failed", len(fork.Branches)),
			fork.ParallelStepID)
	}

	joinStep, ok := s.def.StepByID(fork.JoinStepID)
	if !ok {
		return s.failInstance(ctx, fmt.Sprintf("join step %q not found", fork.JoinStepID), fork.JoinStepID)
	}

	_, err := s.spawn(ctx, joinStep)

	return err
}
