package review

import (
	"context"
	"errors"
	"testing"

	"github.com/loomhq/loom/internal/collab"
	"github.com/loomhq/loom/pkg/models"
)

// fakeReviewer returns a canned assessment or error.
type fakeReviewer struct {
	assessment *collab.ReviewAssessment
	err        error
	calls      int
}

func (f *fakeReviewer) Review(ctx context.Context, task *models.Task, result *models.TaskResult, validation *collab.ValidationReport) (*collab.ReviewAssessment, error) {
	f.calls++
	return f.assessment, f.err
}

func passedReport(confidence float64) *collab.ValidationReport {
	return &collab.ValidationReport{Status: collab.ValidationPassed, ConfidenceScore: confidence}
}

func TestDisabledGateAutoApproves(t *testing.T) {
	g := NewGate(Config{Enabled: false}, nil)
	task := &models.Task{ID: "t", Complexity: models.ComplexityVeryComplex}

	d := g.Review(context.Background(), task, &models.TaskResult{TaskID: "t"}, nil)
	if d.State != StateAutoApproved || !d.Approved || d.Confidence != 1.0 {
		t.Errorf("disabled gate must auto-approve with full confidence, got %+v", d)
	}
}

func TestHighConfidenceSkipsReview(t *testing.T) {
	reviewer := &fakeReviewer{}
	g := NewGate(Config{Enabled: true, ConfidenceThreshold: 0.7}, reviewer)
	task := &models.Task{ID: "t", Complexity: models.ComplexityMedium}

	d := g.Review(context.Background(), task, &models.TaskResult{TaskID: "t"}, passedReport(0.9))
	if d.State != StateNotRequired || !d.Approved {
		t.Errorf("expected not_required approval, got %+v", d)
	}
	if reviewer.calls != 0 {
		t.Error("reviewer must not be consulted above the threshold")
	}
}

func TestLowConfidenceTriggersReview(t *testing.T) {
	reviewer := &fakeReviewer{assessment: &collab.ReviewAssessment{Approved: true, Confidence: 0.8, Comments: "fine"}}
	g := NewGate(Config{Enabled: true, ConfidenceThreshold: 0.7}, reviewer)
	task := &models.Task{ID: "t", Complexity: models.ComplexityMedium}

	d := g.Review(context.Background(), task, &models.TaskResult{TaskID: "t"}, passedReport(0.5))
	if reviewer.calls != 1 {
		t.Fatal("expected reviewer to be consulted")
	}
	if d.State != StateApproved || !d.Approved || d.Confidence != 0.8 {
		t.Errorf("expected approval carrying reviewer confidence, got %+v", d)
	}
}

func TestVeryComplexAlwaysReviewed(t *testing.T) {
	reviewer := &fakeReviewer{assessment: &collab.ReviewAssessment{Approved: true, Confidence: 0.9}}
	g := NewGate(Config{Enabled: true, ConfidenceThreshold: 0.7}, reviewer)
	task := &models.Task{ID: "t", Complexity: models.ComplexityVeryComplex}

	g.Review(context.Background(), task, &models.TaskResult{TaskID: "t"}, passedReport(0.99))
	if reviewer.calls != 1 {
		t.Error("very complex tasks must always be reviewed")
	}
}

func TestCriticalFindingTriggersReview(t *testing.T) {
	reviewer := &fakeReviewer{assessment: &collab.ReviewAssessment{Approved: false, Confidence: 0.9, Comments: "injection risk"}}
	g := NewGate(Config{Enabled: true, ConfidenceThreshold: 0.7}, reviewer)
	task := &models.Task{ID: "t", Complexity: models.ComplexitySimple}
	report := &collab.ValidationReport{
		Status:          collab.ValidationPassed,
		ConfidenceScore: 0.95,
		Findings:        []collab.Finding{{Severity: "critical", Message: "sql injection"}},
	}

	d := g.Review(context.Background(), task, &models.TaskResult{TaskID: "t"}, report)
	if reviewer.calls != 1 {
		t.Fatal("critical findings must trigger review")
	}
	if d.State != StateRejected || d.Approved {
		t.Errorf("expected rejection, got %+v", d)
	}
}

func TestMissingValidationTriggersReview(t *testing.T) {
	reviewer := &fakeReviewer{assessment: &collab.ReviewAssessment{Approved: true, Confidence: 0.75}}
	g := NewGate(Config{Enabled: true}, reviewer)
	task := &models.Task{ID: "t", Complexity: models.ComplexitySimple}

	if !g.Required(task, nil) {
		t.Error("missing validation report must require review")
	}
}

func TestReviewerErrorFailsClosed(t *testing.T) {
	reviewer := &fakeReviewer{err: errors.New("reviewer unreachable")}
	g := NewGate(Config{Enabled: true, ConfidenceThreshold: 0.7}, reviewer)
	task := &models.Task{ID: "t", Complexity: models.ComplexityMedium}

	d := g.Review(context.Background(), task, &models.TaskResult{TaskID: "t"}, passedReport(0.3))
	if d.Approved {
		t.Fatal("unreachable reviewer must never approve")
	}
	if d.State != StateRejected {
		t.Errorf("expected rejected state, got %s", d.State)
	}
}

func TestNilReviewerFailsClosed(t *testing.T) {
	g := NewGate(Config{Enabled: true, ConfidenceThreshold: 0.7}, nil)
	task := &models.Task{ID: "t", Complexity: models.ComplexityMedium}

	d := g.Review(context.Background(), task, &models.TaskResult{TaskID: "t"}, passedReport(0.3))
	if d.Approved || d.State != StateRejected {
		t.Errorf("missing reviewer must reject required reviews, got %+v", d)
	}
}
