package hook

import "time"

// roundTimeoutExtraKey is where RoundTimeoutHook stores its per-agent phase
// state inside Context.Extra, since Extra is a shared map across hooks.
const roundTimeoutExtraKey = "hook.round_timeout.phase"

// RoundTimeoutPhase is the per-agent state RoundTimeoutHook tracks across
// calls. Exported so callers (tests, status reporting) can inspect it via
// Context.Extra[roundTimeoutExtraKey]'s dynamic type.
type RoundTimeoutPhase struct {
	SoftFired            bool
	HardEntered          bool
	ConsecutiveHardDenials int
}

func phaseFor(ctx *Context) *RoundTimeoutPhase {
	if ctx.Extra == nil {
		ctx.Extra = make(map[string]any)
	}
	p, ok := ctx.Extra[roundTimeoutExtraKey].(*RoundTimeoutPhase)
	if !ok {
		p = &RoundTimeoutPhase{}
		ctx.Extra[roundTimeoutExtraKey] = p
	}
	return p
}

// RoundTimeoutPhaseOf returns the current round-timeout phase tracked for
// ctx, or a zero phase if the hook has not run yet.
func RoundTimeoutPhaseOf(ctx *Context) RoundTimeoutPhase {
	if ctx.Extra == nil {
		return RoundTimeoutPhase{}
	}
	if p, ok := ctx.Extra[roundTimeoutExtraKey].(*RoundTimeoutPhase); ok {
		return *p
	}
	return RoundTimeoutPhase{}
}

// RoundTimeoutHook enforces per-round soft/hard time budgets (spec §4.1.5,
// §4.4.2): a post-tool soft warning once elapsed time crosses the
// round-appropriate threshold, then a pre-tool hard denial of any
// non-workflow tool once elapsed time crosses threshold+grace.
type RoundTimeoutHook struct {
	InitialRoundTimeout    time.Duration
	SubsequentRoundTimeout time.Duration
	GracePeriod            time.Duration

	// Now is overridable in tests for deterministic elapsed-time control.
	Now func() time.Time
}

func (h *RoundTimeoutHook) Name() string { return "round_timeout" }

func (h *RoundTimeoutHook) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *RoundTimeoutHook) threshold(round int) time.Duration {
	if round <= 1 {
		return h.InitialRoundTimeout
	}
	return h.SubsequentRoundTimeout
}

func (h *RoundTimeoutHook) Handle(event Event, call Call, ctx *Context) Result {
	phase := phaseFor(ctx)
	elapsed := h.now().Sub(ctx.RoundStart)
	threshold := h.threshold(ctx.Round)

	switch event {
	case PostToolUse:
		if !phase.SoftFired && elapsed >= threshold {
			phase.SoftFired = true
			return Result{
				Decision: Allow,
				Inject: &Injection{
					Content:  "ROUND TIME LIMIT APPROACHING — prepare your deliverable, then call vote or new_answer.",
					Strategy: InjectAsUser,
				},
			}
		}
		return Result{Decision: Allow}

	case PreToolUse:
		if elapsed < threshold+h.GracePeriod {
			return Result{Decision: Allow}
		}
		phase.HardEntered = true
		if call.ToolName == "vote" || call.ToolName == "new_answer" {
			phase.ConsecutiveHardDenials = 0
			return Result{Decision: Allow}
		}
		phase.ConsecutiveHardDenials++
		return Result{
			Decision: Deny,
			Reason:   "HARD TIMEOUT: round time budget exhausted, only vote or new_answer are permitted",
		}
	}
	return Result{Decision: Allow}
}
