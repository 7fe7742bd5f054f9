package health

import (
	"fmt"
	"testing"

	"github.com/objectfs/imageloader/pkg/errors"
)

func TestTracker_RegisterComponent(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	tracker.RegisterComponent(ComponentDisk)

	if state := tracker.GetState(ComponentDisk); state != StateHealthy {
		t.Errorf("Expected initial state to be StateHealthy, got %s", state)
	}
	if state := tracker.GetState("unknown"); state != StateUnavailable {
		t.Errorf("Expected unregistered component to be unavailable, got %s", state)
	}
}

func TestTracker_RecordSuccess(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	tracker.RegisterComponent(ComponentNetwork)

	tracker.RecordError(ComponentNetwork, fmt.Errorf("test error"))
	tracker.RecordError(ComponentNetwork, fmt.Errorf("test error"))
	tracker.RecordSuccess(ComponentNetwork)
	tracker.RecordSuccess(ComponentNetwork)

	health, err := tracker.GetComponentHealth(ComponentNetwork)
	if err != nil {
		t.Fatalf("Failed to get component health: %v", err)
	}
	if health.ConsecutiveErrors != 0 {
		t.Errorf("Expected ConsecutiveErrors=0 after successes, got %d", health.ConsecutiveErrors)
	}
}

func TestTracker_Degradation(t *testing.T) {
	tracker := NewTracker(TrackerConfig{ErrorThreshold: 3, UnavailableThreshold: 5})
	tracker.RegisterComponent(ComponentNetwork)

	for i := 0; i < 2; i++ {
		tracker.RecordError(ComponentNetwork, errors.Timeout("u", nil))
	}
	if state := tracker.GetState(ComponentNetwork); state != StateHealthy {
		t.Errorf("Expected StateHealthy before threshold, got %s", state)
	}

	tracker.RecordError(ComponentNetwork, errors.Timeout("u", nil))
	if state := tracker.GetState(ComponentNetwork); state != StateDegraded {
		t.Errorf("Expected StateDegraded at threshold, got %s", state)
	}

	tracker.RecordError(ComponentNetwork, errors.Timeout("u", nil))
	tracker.RecordError(ComponentNetwork, errors.Timeout("u", nil))
	if state := tracker.GetState(ComponentNetwork); state != StateUnavailable {
		t.Errorf("Expected StateUnavailable, got %s", state)
	}
	if overall := tracker.GetOverallHealth(); overall != StateUnavailable {
		t.Errorf("Expected overall StateUnavailable, got %s", overall)
	}
}

func TestTracker_WriteFailuresAreReadOnly(t *testing.T) {
	tracker := NewTracker(TrackerConfig{ErrorThreshold: 2, UnavailableThreshold: 10})
	tracker.RegisterComponent(ComponentDisk)

	writeErr := errors.IO("/cache/x", fmt.Errorf("no space left on device")).WithOperation("write")
	tracker.RecordError(ComponentDisk, writeErr)
	tracker.RecordError(ComponentDisk, writeErr)

	if state := tracker.GetState(ComponentDisk); state != StateReadOnly {
		t.Errorf("Expected StateReadOnly, got %s", state)
	}
}

func TestTracker_Recovery(t *testing.T) {
	tracker := NewTracker(TrackerConfig{ErrorThreshold: 2, UnavailableThreshold: 10})
	tracker.RegisterComponent(ComponentDisk)

	var transitions []string
	tracker.AddStateChangeCallback(func(component string, oldState, newState HealthState, _ error) {
		transitions = append(transitions, fmt.Sprintf("%s:%s->%s", component, oldState, newState))
	})

	tracker.RecordError(ComponentDisk, fmt.Errorf("boom"))
	tracker.RecordError(ComponentDisk, fmt.Errorf("boom"))
	tracker.RecordSuccess(ComponentDisk)
	tracker.RecordSuccess(ComponentDisk)

	if !tracker.IsHealthy(ComponentDisk) {
		t.Errorf("Expected recovery to healthy, got %s", tracker.GetState(ComponentDisk))
	}
	want := []string{"disk:healthy->degraded", "disk:degraded->healthy"}
	if fmt.Sprint(transitions) != fmt.Sprint(want) {
		t.Errorf("transitions = %v, want %v", transitions, want)
	}
}

func TestTracker_NilIsHealthy(t *testing.T) {
	var tracker *Tracker
	tracker.RegisterComponent(ComponentDisk)
	tracker.RecordError(ComponentDisk, fmt.Errorf("ignored"))
	tracker.RecordSuccess(ComponentDisk)

	if tracker.GetOverallHealth() != StateHealthy {
		t.Error("nil tracker should report healthy")
	}
	if tracker.GetAllComponents() != nil {
		t.Error("nil tracker should have no components")
	}
}

func TestTracker_GetAllComponentsSorted(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	tracker.RegisterComponent(ComponentNetwork)
	tracker.RegisterComponent(ComponentDisk)

	all := tracker.GetAllComponents()
	if len(all) != 2 || all[0].Name != ComponentDisk || all[1].Name != ComponentNetwork {
		t.Errorf("GetAllComponents() = %+v", all)
	}
	if _, err := tracker.GetComponentHealth("missing"); err == nil {
		t.Error("expected error for unregistered component")
	}
}

func TestHealthState_String(t *testing.T) {
	tests := map[HealthState]string{
		StateHealthy:     "healthy",
		StateDegraded:    "degraded",
		StateReadOnly:    "read-only",
		StateUnavailable: "unavailable",
		HealthState(42):  "unknown",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", state, got, want)
		}
	}
}
