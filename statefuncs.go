package autotrail

// stepTickInfo is the per-tick readiness verdict the engine computed for a
// step, consulted by the ordered state functions alongside the step's own
// flags and state.
type stepTickInfo struct {
	ready       bool
	unreachable bool
}

// stateFunc attempts one precedence-ordered transition. It returns true if
// it fired (and thus mutated s.state), in which case no further state
// function is consulted for this step this tick.
type stateFunc func(s *Step, info stepTickInfo) bool

// stateFunctions is the fixed, precedence-ordered transition table from
// spec.md §4.4: destructive/urgent operator intents beat advisory ones,
// which beat natural progression. The first matching entry wins.
var stateFunctions = []stateFunc{
	interruptStateFunc,
	skipStateFunc,
	blockStateFunc,
	pauseStateFunc,
	rerunStateFunc,
	readyStateFunc,
}

// ignorableStateFunctions are consulted only when nothing in stateFunctions
// matched. They implement automatic reversion once the flag that put a step
// into a holding state has been cleared — resolving the open question of how
// "soft" transitions interact with the hard ones by running strictly after
// them, never ahead of or instead of them.
var ignorableStateFunctions = []stateFunc{
	resumeStateFunc,
	unblockStateFunc,
}

func interruptStateFunc(s *Step, _ stepTickInfo) bool {
	if !s.flags.InterruptRequested || s.state != StateRun {
		return false
	}
	s.state = StateInterrupted
	s.flags.InterruptRequested = false
	// s.mu is already held by applyStateFunctions; call the cancel func
	// directly rather than through Step.interrupt, which takes the lock.
	if s.cancel != nil {
		s.cancel()
	}
	return true
}

func skipStateFunc(s *Step, _ stepTickInfo) bool {
	if !s.flags.SkipRequested {
		return false
	}
	switch s.state {
	case StateWait, StateReady, StatePaused, StateBlocked:
		s.state = StateSkipped
		s.flags.SkipRequested = false
		return true
	default:
		return false
	}
}

func blockStateFunc(s *Step, _ stepTickInfo) bool {
	if !s.flags.BlockRequested {
		return false
	}
	switch s.state {
	case StateWait, StateReady:
		s.state = StateBlocked
		return true
	default:
		return false
	}
}

func pauseStateFunc(s *Step, _ stepTickInfo) bool {
	if !s.flags.PauseRequested || s.state != StateRun {
		return false
	}
	s.state = StatePaused
	s.pauseSignal.Store(true)
	return true
}

func rerunStateFunc(s *Step, _ stepTickInfo) bool {
	if !s.flags.RerunRequested || !s.state.Terminal() {
		return false
	}
	s.state = StateWait
	s.flags.RerunRequested = false
	s.result = Result{}
	s.hasResult = false
	return true
}

func readyStateFunc(s *Step, info stepTickInfo) bool {
	if s.state != StateWait {
		return false
	}
	if info.unreachable {
		s.state = StateUnreachable
		return true
	}
	if info.ready {
		s.state = StateReady
		return true
	}
	return false
}

func resumeStateFunc(s *Step, _ stepTickInfo) bool {
	if s.state != StatePaused || s.flags.PauseRequested {
		return false
	}
	s.state = StateRun
	s.pauseSignal.Store(false)
	return true
}

func unblockStateFunc(s *Step, _ stepTickInfo) bool {
	if s.state != StateBlocked || s.flags.BlockRequested {
		return false
	}
	s.state = StateWait
	return true
}

// applyStateFunctions runs the ordered table, then the ignorable table on no
// match, against a single step, holding its lock for the duration.
func applyStateFunctions(s *Step, info stepTickInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, fn := range stateFunctions {
		if fn(s, info) {
			return
		}
	}
	for _, fn := range ignorableStateFunctions {
		if fn(s, info) {
			return
		}
	}
}
