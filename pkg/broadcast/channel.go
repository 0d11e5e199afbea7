package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/massgen-go/massgen/pkg/coordination"
)

// ShadowSpawner answers one broadcast question on behalf of targetAgentID
// using a shadow clone of that agent, without mutating the target's own
// conversation buffer.
type ShadowSpawner interface {
	SpawnAndRespond(ctx context.Context, targetAgentID string, req Request) (Response, error)
}

// HumanPrompter surfaces one broadcast question to a human operator.
type HumanPrompter interface {
	PromptForBroadcast(ctx context.Context, req Request) (Response, error)
}

// ParentNotifier is told about a shadow agent's answer so it can leave an
// informational note in the parent agent's buffer (spec.md §4.3).
type ParentNotifier interface {
	NotifyShadowAnswered(parentAgentID string, req Request, answer Response)
}

type pendingBroadcast struct {
	req      Request
	done     chan struct{}
	closeOne sync.Once
}

// Channel is BroadcastChannel: the authoritative owner of in-flight
// broadcast requests, grounded on original_source/massgen's
// _broadcast_channel.py lifecycle (create -> inject -> collect -> wait ->
// cleanup), adapted to Go's mutex+channel idioms in place of
// asyncio.Lock/asyncio.Event.
type Channel struct {
	mode                  Mode
	maxBroadcastsPerAgent int
	defaultTimeout        time.Duration
	limiter               *rate.Limiter
	agents                []string // real agent ids participating in the session
	tracker               *coordination.Tracker

	spawner ShadowSpawner
	human   HumanPrompter
	notify  ParentNotifier

	// OnInvalidTarget, if set, is called for every anonymous target id that
	// does not resolve to a real agent (mirrors the original's logged
	// warning; invalid ids are filtered out, never raised as an error).
	OnInvalidTarget func(anonID string)

	mu        sync.Mutex
	active    map[string]*pendingBroadcast
	responses map[string][]ResponseRecord

	humanLock sync.Mutex
	humanQA   []QAEntry
}

// Config configures a new Channel.
type Config struct {
	Mode                  Mode
	MaxBroadcastsPerAgent int
	DefaultTimeout        time.Duration
	// RateLimit bounds how many new broadcasts may be created per second
	// across the whole channel; zero disables rate limiting.
	RateLimit rate.Limit
	RateBurst int

	Agents  []string
	Tracker *coordination.Tracker
	Spawner ShadowSpawner
	Human   HumanPrompter
	Notify  ParentNotifier
}

// New creates a Channel from cfg.
func New(cfg Config) *Channel {
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(cfg.RateLimit, burst)
	}
	return &Channel{
		mode:                  cfg.Mode,
		maxBroadcastsPerAgent: cfg.MaxBroadcastsPerAgent,
		defaultTimeout:        cfg.DefaultTimeout,
		limiter:               limiter,
		agents:                cfg.Agents,
		tracker:               cfg.Tracker,
		spawner:               cfg.Spawner,
		human:                 cfg.Human,
		notify:                cfg.Notify,
		active:                make(map[string]*pendingBroadcast),
		responses:             make(map[string][]ResponseRecord),
	}
}

// CreateBroadcast registers a new broadcast request and returns its id.
func (c *Channel) CreateBroadcast(ctx context.Context, sender string, question Question, timeout time.Duration, targetAgents []string) (string, error) {
	if c.mode == ModeOff {
		return "", ErrDisabled
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("broadcast: rate limit wait: %w", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	inFlight := 0
	for _, p := range c.active {
		if p.req.SenderAgentID == sender {
			inFlight++
		}
	}
	if c.maxBroadcastsPerAgent > 0 && inFlight >= c.maxBroadcastsPerAgent {
		return "", ErrRateLimited
	}

	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	expected, err := c.computeExpectedCount(sender, targetAgents)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	req := Request{
		ID:                    id,
		SenderAgentID:         sender,
		Question:              question,
		Timestamp:             time.Now(),
		Timeout:               timeout,
		ExpectedResponseCount: expected,
		TargetAgents:          targetAgents,
		Status:                StatusPending,
	}
	c.active[id] = &pendingBroadcast{req: req, done: make(chan struct{})}
	c.responses[id] = nil
	return id, nil
}

// computeExpectedCount must be called with c.mu held.
func (c *Channel) computeExpectedCount(sender string, targetAgents []string) (int, error) {
	if c.mode == ModeHuman {
		return 1, nil
	}
	if len(targetAgents) > 0 {
		real := c.resolveAnonymousToReal(targetAgents)
		filtered := real[:0:0]
		for _, id := range real {
			if id != sender {
				filtered = append(filtered, id)
			}
		}
		if len(filtered) == 0 {
			return 0, ErrNoValidTargets
		}
		return len(filtered), nil
	}

	others := 0
	for _, id := range c.agents {
		if id != sender {
			others++
		}
	}
	return others, nil
}

// resolveAnonymousToReal maps anonymous ids to real ids via the tracker's
// forward mapping, dropping (and reporting) any that don't resolve.
func (c *Channel) resolveAnonymousToReal(anonIDs []string) []string {
	mapping, err := c.tracker.GetAnonymousMapping() // anon -> real
	if err != nil {
		return nil
	}
	var out []string
	for _, anon := range anonIDs {
		if real, ok := mapping[anon]; ok {
			out = append(out, string(real))
		} else if c.OnInvalidTarget != nil {
			c.OnInvalidTarget(anon)
		}
	}
	return out
}

// InjectIntoAgents distributes the broadcast: in agents mode, spawns
// shadow agents concurrently; in human mode, prompts the human operator
// under the channel's serialization lock.
func (c *Channel) InjectIntoAgents(ctx context.Context, requestID string) error {
	c.mu.Lock()
	p, ok := c.active[requestID]
	if !ok {
		c.mu.Unlock()
		return ErrUnknownRequest
	}
	p.req.Status = StatusCollecting
	req := p.req
	c.mu.Unlock()

	if c.mode == ModeHuman {
		return c.promptHuman(ctx, requestID, req)
	}
	return c.spawnShadowAgents(ctx, requestID, req)
}

func (c *Channel) spawnShadowAgents(ctx context.Context, requestID string, req Request) error {
	if c.spawner == nil {
		return nil
	}

	var targets []string
	if len(req.TargetAgents) > 0 {
		resolved := c.resolveAnonymousToReal(req.TargetAgents)
		for _, id := range resolved {
			if id != req.SenderAgentID {
				targets = append(targets, id)
			}
		}
	} else {
		for _, id := range c.agents {
			if id != req.SenderAgentID {
				targets = append(targets, id)
			}
		}
	}
	if len(targets) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(context.Background())
	g.SetLimit(len(targets))
	for _, target := range targets {
		target := target
		g.Go(func() error {
			answer, err := c.spawner.SpawnAndRespond(gctx, target, req)
			if err != nil {
				c.collectResponse(requestID, "shadow_"+target, Response{Text: fmt.Sprintf("[Error: %s]", err)}, false)
				return nil
			}
			c.collectResponse(requestID, "shadow_"+target, answer, false)
			if c.notify != nil {
				c.notify.NotifyShadowAnswered(target, req, answer)
			}
			return nil
		})
	}
	return g.Wait()
}

func (c *Channel) promptHuman(ctx context.Context, requestID string, req Request) error {
	if c.human == nil {
		return nil
	}
	c.humanLock.Lock()
	defer c.humanLock.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	answer, err := c.human.PromptForBroadcast(waitCtx, req)
	if err != nil {
		return nil // timeouts/errors on a human prompt are not broadcast failures
	}

	c.collectResponse(requestID, "human", answer, true)

	c.mu.Lock()
	c.humanQA = append(c.humanQA, QAEntry{Question: req.Question, Answer: answer})
	c.mu.Unlock()
	return nil
}

// CollectResponse records one response to requestID. Exported so callers
// that already hold a response (e.g. the orchestrator handling
// respond_to_broadcast) can record it without going through InjectIntoAgents.
func (c *Channel) CollectResponse(requestID, responderID string, content Response, isHuman bool) error {
	return c.collectResponse(requestID, responderID, content, isHuman)
}

func (c *Channel) collectResponse(requestID, responderID string, content Response, isHuman bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.active[requestID]
	if !ok {
		return ErrUnknownRequest
	}

	c.responses[requestID] = append(c.responses[requestID], ResponseRecord{
		RequestID:   requestID,
		ResponderID: responderID,
		Content:     content,
		IsHuman:     isHuman,
		Timestamp:   time.Now(),
	})
	p.req.ResponsesReceived++

	if p.req.ResponsesReceived >= p.req.ExpectedResponseCount {
		p.req.Status = StatusComplete
		p.closeOne.Do(func() { close(p.done) })
	}
	return nil
}

// WaitForResponses blocks until requestID completes or times out.
func (c *Channel) WaitForResponses(ctx context.Context, requestID string, timeout time.Duration) (WaitResult, error) {
	c.mu.Lock()
	p, ok := c.active[requestID]
	if !ok {
		c.mu.Unlock()
		return WaitResult{}, ErrUnknownRequest
	}
	if timeout <= 0 {
		timeout = p.req.Timeout
	}
	done := p.done
	c.mu.Unlock()

	select {
	case <-done:
	case <-time.After(timeout):
		c.mu.Lock()
		if p.req.Status != StatusComplete {
			p.req.Status = StatusTimeout
		}
		c.mu.Unlock()
	case <-ctx.Done():
		c.mu.Lock()
		if p.req.Status != StatusComplete {
			p.req.Status = StatusTimeout
		}
		c.mu.Unlock()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	resp := make([]ResponseRecord, len(c.responses[requestID]))
	copy(resp, c.responses[requestID])
	return WaitResult{Status: p.req.Status, Responses: resp}, nil
}

// Status reports the current state of requestID, including which
// non-sender agents have not yet responded.
func (c *Channel) Status(requestID string) (StatusReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.active[requestID]
	if !ok {
		return StatusReport{}, ErrUnknownRequest
	}

	responded := make(map[string]bool)
	for _, r := range c.responses[requestID] {
		if !r.IsHuman {
			responded[r.ResponderID] = true
		}
	}

	var waitingFor []string
	for _, id := range c.agents {
		if id == p.req.SenderAgentID {
			continue
		}
		if !responded["shadow_"+id] && !responded[id] {
			waitingFor = append(waitingFor, id)
		}
	}

	return StatusReport{
		Status:        p.req.Status,
		ResponseCount: p.req.ResponsesReceived,
		ExpectedCount: p.req.ExpectedResponseCount,
		WaitingFor:    waitingFor,
	}, nil
}

// Mode reports the distribution mode this channel was configured with.
func (c *Channel) Mode() Mode { return c.mode }

// HumanQAHistory returns all human question/answer pairs collected over
// the channel's lifetime, in order; the history is never reset.
func (c *Channel) HumanQAHistory() []QAEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]QAEntry, len(c.humanQA))
	copy(out, c.humanQA)
	return out
}

// Cleanup removes all state for requestID.
func (c *Channel) Cleanup(requestID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.active[requestID]; !ok {
		return ErrUnknownRequest
	}
	delete(c.active, requestID)
	delete(c.responses, requestID)
	return nil
}
