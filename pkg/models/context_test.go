package models

import "testing"

func TestSnapshotIsIndependent(t *testing.T) {
	shared := &SharedContext{
		Language:            "go",
		QualityRequirements: []string{"tests required"},
	}
	shared.RecordCompleted("t1")

	snap := shared.Snapshot()
	shared.RecordCompleted("t2")
	shared.SetPhase("assembly")
	snap.QualityRequirements[0] = "mutated"

	if len(snap.CompletedTasks) != 1 {
		t.Errorf("snapshot must not see later progress, got %v", snap.CompletedTasks)
	}
	if snap.CurrentPhase != "" {
		t.Errorf("snapshot must not see later phase, got %q", snap.CurrentPhase)
	}
	if shared.QualityRequirements[0] != "tests required" {
		t.Error("mutating the snapshot must not touch the original")
	}
}

func TestProgressLog(t *testing.T) {
	shared := &SharedContext{}
	shared.RecordCompleted("a")
	shared.RecordCompleted("b")
	shared.RecordPattern("repository")
	shared.RecordInsight("schema drives the API surface")
	shared.SetPhase("execution")

	if len(shared.CompletedTasks) != 2 {
		t.Errorf("got %v", shared.CompletedTasks)
	}
	if shared.CurrentPhase != "execution" {
		t.Errorf("got %q", shared.CurrentPhase)
	}
	if len(shared.PatternsUsed) != 1 || len(shared.InsightsGained) != 1 {
		t.Error("pattern and insight logs must record entries")
	}
}
