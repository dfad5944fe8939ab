package autotrail

import "encoding/json"

// shutdownAck is the sentinel result value the shutdown call's effect
// returns. The manager recognizes it by identity, not by wire shape, and
// sets the shutdown flag (spec.md §4.4 step 1).
type shutdownAck struct{}

// ShutdownAck is the sentinel payload documented in spec.md §7: "not an
// error; sentinel payload".
var ShutdownAck = shutdownAck{}

// selectorArgs is the common request shape shared by every call that targets
// a subset of steps: the union of explicit ids and tag-matched steps. Both
// empty selects every step in the trail — there is no way to explicitly
// target "no steps" other than naming ids/tags that match nothing.
type selectorArgs struct {
	IDs  []string          `json:"ids"`
	Tags map[string]string `json:"tags"`
}

// sendMessageArgs is the payload shape for send_message_to_steps: a selector
// plus the arbitrary message to enqueue.
type sendMessageArgs struct {
	selectorArgs
	Message json.RawMessage `json:"message"`
}

func decodeSelector(payload json.RawMessage) (selectorArgs, error) {
	var args selectorArgs
	if len(payload) == 0 {
		return args, nil
	}
	if err := json.Unmarshal(payload, &args); err != nil {
		return args, newError(ErrBadRequest, "invalid payload: %v", err)
	}
	return args, nil
}

func tagsMatch(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

// selectSteps resolves a selectorArgs against a trail. Empty ids and empty
// tags together select every step.
func selectSteps(t *Trail, args selectorArgs) []*Step {
	if len(args.IDs) == 0 && len(args.Tags) == 0 {
		return t.Steps()
	}
	seen := make(map[string]bool)
	var out []*Step
	add := func(s *Step) {
		if !seen[s.id] {
			seen[s.id] = true
			out = append(out, s)
		}
	}
	for _, id := range args.IDs {
		if s, ok := t.Step(id); ok {
			add(s)
		}
	}
	if len(args.Tags) > 0 {
		for _, s := range t.Steps() {
			if tagsMatch(s.Tags(), args.Tags) {
				add(s)
			}
		}
	}
	return out
}

// stepInfo is the wire representation of a step's public state, used by the
// list and status calls.
type stepInfo struct {
	ID     string            `json:"id"`
	Name   string            `json:"name"`
	State  State             `json:"state"`
	Tags   map[string]string `json:"tags,omitempty"`
	Status Status            `json:"status,omitempty"`
	Result any               `json:"result,omitempty"`
}

func toStepInfo(snap stepSnapshot) stepInfo {
	info := stepInfo{ID: snap.ID, Name: snap.Name, State: snap.State, Tags: snap.Tags}
	if snap.HasResult {
		info.Status = snap.Result.Status
		info.Result = snap.Result.Value
	}
	return info
}

// apiDefinition mirrors spec.md §4.5's five-slot APICallDefinition: a plain
// configuration record, not a registration side effect. The dispatcher
// (dispatchAPICall) is a lookup by name against a package-level table.
type apiDefinition struct {
	name     string
	validate func(json.RawMessage) (any, error)
	selector func(*Trail, any) []*Step
	effect   func(*Trail, []*Step, any) (any, error)
}

func wrapSelectorValidate() func(json.RawMessage) (any, error) {
	return func(payload json.RawMessage) (any, error) {
		return decodeSelector(payload)
	}
}

func wrapSelectorSelect() func(*Trail, any) []*Step {
	return func(t *Trail, args any) []*Step {
		return selectSteps(t, args.(selectorArgs))
	}
}

// flagEffect builds an Effect that sets or clears one flag on every selected
// step applicable allows, and returns both the ids it touched and the ids it
// left untouched because the step's current state rules the flag out —
// spec.md §7's InvalidTransition: "reported but non-fatal." The call itself
// still succeeds; ignored ids are surfaced for the caller to act on.
func flagEffect(set func(*Flags, bool), value bool, applicable func(State) bool) func(*Trail, []*Step, any) (any, error) {
	return func(_ *Trail, steps []*Step, _ any) (any, error) {
		var affected, ignored []string
		for _, s := range steps {
			s.mu.Lock()
			if applicable(s.state) {
				set(&s.flags, value)
				affected = append(affected, s.id)
			} else {
				ignored = append(ignored, s.id)
			}
			s.mu.Unlock()
		}
		result := map[string]any{"affected": affected}
		if len(ignored) > 0 {
			result["ignored"] = ignored
			result["ignored_reason"] = string(ErrInvalidTransition)
		}
		return result, nil
	}
}

// notTerminal and terminalOnly are the two applicability shapes every flag
// call needs: every flag but rerun only makes sense before a step has
// reached a final state; rerun is the inverse, only meaningful once a step
// has already finished.
func notTerminal(s State) bool  { return !s.Terminal() }
func terminalOnly(s State) bool { return s.Terminal() }

var apiTable = map[string]apiDefinition{
	"list": {
		name:     "list",
		validate: wrapSelectorValidate(),
		selector: wrapSelectorSelect(),
		effect: func(_ *Trail, steps []*Step, _ any) (any, error) {
			infos := make([]stepInfo, 0, len(steps))
			for _, s := range steps {
				infos = append(infos, toStepInfo(s.snapshot()))
			}
			return map[string]any{"steps": infos}, nil
		},
	},
	"pause": {
		name: "pause", validate: wrapSelectorValidate(), selector: wrapSelectorSelect(),
		effect: flagEffect(func(f *Flags, v bool) { f.PauseRequested = v }, true, notTerminal),
	},
	"resume": {
		name: "resume", validate: wrapSelectorValidate(), selector: wrapSelectorSelect(),
		effect: flagEffect(func(f *Flags, v bool) { f.PauseRequested = v }, false, notTerminal),
	},
	"skip": {
		name: "skip", validate: wrapSelectorValidate(), selector: wrapSelectorSelect(),
		effect: flagEffect(func(f *Flags, v bool) { f.SkipRequested = v }, true, notTerminal),
	},
	"unskip": {
		name: "unskip", validate: wrapSelectorValidate(), selector: wrapSelectorSelect(),
		effect: flagEffect(func(f *Flags, v bool) { f.SkipRequested = v }, false, notTerminal),
	},
	"block": {
		name: "block", validate: wrapSelectorValidate(), selector: wrapSelectorSelect(),
		effect: flagEffect(func(f *Flags, v bool) { f.BlockRequested = v }, true, notTerminal),
	},
	"unblock": {
		name: "unblock", validate: wrapSelectorValidate(), selector: wrapSelectorSelect(),
		effect: flagEffect(func(f *Flags, v bool) { f.BlockRequested = v }, false, notTerminal),
	},
	"interrupt": {
		name: "interrupt", validate: wrapSelectorValidate(), selector: wrapSelectorSelect(),
		effect: flagEffect(func(f *Flags, v bool) { f.InterruptRequested = v }, true, notTerminal),
	},
	"rerun": {
		name: "rerun", validate: wrapSelectorValidate(), selector: wrapSelectorSelect(),
		effect: flagEffect(func(f *Flags, v bool) { f.RerunRequested = v }, true, terminalOnly),
	},
	"send_message_to_steps": {
		name: "send_message_to_steps",
		validate: func(payload json.RawMessage) (any, error) {
			var args sendMessageArgs
			if len(payload) > 0 {
				if err := json.Unmarshal(payload, &args); err != nil {
					return nil, newError(ErrBadRequest, "invalid payload: %v", err)
				}
			}
			return args, nil
		},
		selector: func(t *Trail, args any) []*Step {
			return selectSteps(t, args.(sendMessageArgs).selectorArgs)
		},
		effect: func(_ *Trail, steps []*Step, args any) (any, error) {
			a := args.(sendMessageArgs)
			var ids []string
			for _, s := range steps {
				if err := s.toStep.push(a.Message); err != nil {
					return nil, err
				}
				ids = append(ids, s.id)
			}
			return map[string]any{"affected": ids}, nil
		},
	},
	"get_step_messages": {
		name:     "get_step_messages",
		validate: wrapSelectorValidate(),
		selector: wrapSelectorSelect(),
		effect: func(_ *Trail, steps []*Step, _ any) (any, error) {
			out := make(map[string][]any, len(steps))
			for _, s := range steps {
				out[s.id] = s.fromStep.drainAll()
			}
			return map[string]any{"messages": out}, nil
		},
	},
	"status": {
		name:     "status",
		validate: func(json.RawMessage) (any, error) { return nil, nil },
		selector: func(t *Trail, _ any) []*Step { return t.Steps() },
		effect: func(_ *Trail, steps []*Step, _ any) (any, error) {
			counts := make(map[State]int)
			for _, s := range steps {
				counts[s.State()]++
			}
			return map[string]any{"counts": counts, "total": len(steps)}, nil
		},
	},
	"shutdown": {
		name:     "shutdown",
		validate: func(json.RawMessage) (any, error) { return nil, nil },
		selector: func(*Trail, any) []*Step { return nil },
		effect: func(*Trail, []*Step, any) (any, error) {
			return ShutdownAck, nil
		},
	},
}

// dispatchAPICall runs the four consulted slots of an apiDefinition in
// order (validate -> select -> effect) and returns the response alongside
// the raw effect result, so the caller can recognize [ShutdownAck] by
// identity without re-parsing the wire response.
func dispatchAPICall(t *Trail, req Request) (Response, any) {
	def, ok := apiTable[req.Name]
	if !ok {
		return errorResponse(req.RequestID, newError(ErrBadRequest, "unknown call %q", req.Name)), nil
	}

	args, err := def.validate(req.Payload)
	if err != nil {
		return errorResponse(req.RequestID, err), nil
	}

	steps := def.selector(t, args)

	result, err := def.effect(t, steps, args)
	if err != nil {
		return errorResponse(req.RequestID, err), nil
	}

	if result == ShutdownAck {
		resp, _ := okResponse(req.RequestID, map[string]bool{"shutdown": true})
		return resp, result
	}

	resp, err := okResponse(req.RequestID, result)
	if err != nil {
		return errorResponse(req.RequestID, newError(ErrInternal, "encode response: %v", err)), nil
	}
	return resp, result
}
