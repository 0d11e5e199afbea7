package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/massgen-go/massgen/pkg/coordination"
)

func newTestChannel(t *testing.T, mode Mode, agents []string) (*Channel, *coordination.Tracker) {
	t.Helper()
	tr := coordination.NewTracker()
	ids := make([]coordination.AgentID, len(agents))
	for i, a := range agents {
		ids[i] = coordination.AgentID(a)
	}
	tr.InitSession(ids)

	ch := New(Config{
		Mode:                  mode,
		MaxBroadcastsPerAgent: 2,
		DefaultTimeout:        50 * time.Millisecond,
		Agents:                agents,
		Tracker:               tr,
	})
	return ch, tr
}

func TestCreateBroadcastComputesExpectedCountForAllOthers(t *testing.T) {
	ch, _ := newTestChannel(t, ModeAgents, []string{"a", "b", "c"})
	id, err := ch.CreateBroadcast(context.Background(), "a", Question{Text: "q"}, 0, nil)
	if err != nil {
		t.Fatalf("CreateBroadcast: %v", err)
	}
	status, err := ch.Status(id)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.ExpectedCount != 2 {
		t.Errorf("ExpectedCount = %d, want 2", status.ExpectedCount)
	}
}

func TestCreateBroadcastHumanModeExpectsOne(t *testing.T) {
	ch, _ := newTestChannel(t, ModeHuman, []string{"a", "b", "c"})
	id, err := ch.CreateBroadcast(context.Background(), "a", Question{Text: "q"}, 0, nil)
	if err != nil {
		t.Fatalf("CreateBroadcast: %v", err)
	}
	status, _ := ch.Status(id)
	if status.ExpectedCount != 1 {
		t.Errorf("ExpectedCount = %d, want 1", status.ExpectedCount)
	}
}

func TestCreateBroadcastWithOnlySenderAsTargetFails(t *testing.T) {
	ch, tr := newTestChannel(t, ModeAgents, []string{"a", "b"})
	anonOfA, _ := tr.GetReverseMapping()
	_, err := ch.CreateBroadcast(context.Background(), "a", Question{Text: "q"}, 0, []string{anonOfA["a"]})
	if err != ErrNoValidTargets {
		t.Errorf("err = %v, want ErrNoValidTargets", err)
	}
}

func TestCreateBroadcastDisabledMode(t *testing.T) {
	ch, _ := newTestChannel(t, ModeOff, []string{"a", "b"})
	if _, err := ch.CreateBroadcast(context.Background(), "a", Question{Text: "q"}, 0, nil); err != ErrDisabled {
		t.Errorf("err = %v, want ErrDisabled", err)
	}
}

func TestCreateBroadcastRateLimitedByInFlightCap(t *testing.T) {
	ch, _ := newTestChannel(t, ModeAgents, []string{"a", "b"})
	ch.CreateBroadcast(context.Background(), "a", Question{Text: "1"}, 0, nil)
	ch.CreateBroadcast(context.Background(), "a", Question{Text: "2"}, 0, nil)
	if _, err := ch.CreateBroadcast(context.Background(), "a", Question{Text: "3"}, 0, nil); err != ErrRateLimited {
		t.Errorf("err = %v, want ErrRateLimited", err)
	}
}

type fakeSpawner struct {
	fail map[string]bool
}

func (f *fakeSpawner) SpawnAndRespond(ctx context.Context, targetAgentID string, req Request) (Response, error) {
	if f.fail[targetAgentID] {
		return Response{}, errFake
	}
	return Response{Text: "answer from " + targetAgentID}, nil
}

var errFake = fakeErr("shadow failed")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

func TestSpawnShadowAgentsCollectsAllIncludingErrors(t *testing.T) {
	ch, _ := newTestChannel(t, ModeAgents, []string{"a", "b", "c"})
	ch.spawner = &fakeSpawner{fail: map[string]bool{"c": true}}

	id, err := ch.CreateBroadcast(context.Background(), "a", Question{Text: "q"}, 0, nil)
	if err != nil {
		t.Fatalf("CreateBroadcast: %v", err)
	}
	if err := ch.InjectIntoAgents(context.Background(), id); err != nil {
		t.Fatalf("InjectIntoAgents: %v", err)
	}

	result, err := ch.WaitForResponses(context.Background(), id, 0)
	if err != nil {
		t.Fatalf("WaitForResponses: %v", err)
	}
	if result.Status != StatusComplete {
		t.Fatalf("Status = %v, want complete", result.Status)
	}
	if len(result.Responses) != 2 {
		t.Fatalf("len(Responses) = %d, want 2", len(result.Responses))
	}
	var sawError bool
	for _, r := range result.Responses {
		if r.ResponderID == "shadow_c" && r.Content.Text == "[Error: shadow failed]" {
			sawError = true
		}
	}
	if !sawError {
		t.Error("expected shadow_c's failure recorded as an [Error: ...] response")
	}
}

func TestWaitForResponsesTimesOutWithPartialResponses(t *testing.T) {
	ch, _ := newTestChannel(t, ModeAgents, []string{"a", "b", "c"})
	id, _ := ch.CreateBroadcast(context.Background(), "a", Question{Text: "q"}, 10*time.Millisecond, nil)
	ch.CollectResponse(id, "b", Response{Text: "partial"}, false)

	result, err := ch.WaitForResponses(context.Background(), id, 0)
	if err != nil {
		t.Fatalf("WaitForResponses: %v", err)
	}
	if result.Status != StatusTimeout {
		t.Errorf("Status = %v, want timeout", result.Status)
	}
	if len(result.Responses) != 1 {
		t.Errorf("len(Responses) = %d, want 1", len(result.Responses))
	}
}

func TestCleanupRemovesState(t *testing.T) {
	ch, _ := newTestChannel(t, ModeAgents, []string{"a", "b"})
	id, _ := ch.CreateBroadcast(context.Background(), "a", Question{Text: "q"}, 0, nil)
	if err := ch.Cleanup(id); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := ch.Status(id); err != ErrUnknownRequest {
		t.Errorf("err = %v, want ErrUnknownRequest after cleanup", err)
	}
}
