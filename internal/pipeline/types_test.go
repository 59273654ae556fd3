package pipeline

import "testing"

func TestPlanDecision_Validate(t *testing.T) {
	tests := []struct {
		name    string
		d       PlanDecision
		wantErr bool
	}{
		{
			name:    "apply edits with plan",
			d:       PlanDecision{Decision: DecisionApplyEdits, UpdatedPlan: &Plan{Summary: "v2"}},
			wantErr: false,
		},
		{
			name:    "apply edits without plan fails fast",
			d:       PlanDecision{Decision: DecisionApplyEdits},
			wantErr: true,
		},
		{
			name:    "regenerate",
			d:       PlanDecision{Decision: DecisionRegenerate},
			wantErr: false,
		},
		{
			name:    "regenerate with stray plan",
			d:       PlanDecision{Decision: DecisionRegenerate, UpdatedPlan: &Plan{}},
			wantErr: true,
		},
		{
			name:    "unknown decision",
			d:       PlanDecision{Decision: "maybe"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.d.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPlanFeedback_None(t *testing.T) {
	var nilFb *PlanFeedback
	if !nilFb.None() {
		t.Errorf("nil feedback should report none")
	}
	if !(&PlanFeedback{}).None() {
		t.Errorf("empty feedback should report none")
	}
	if (&PlanFeedback{Edits: []string{"use USB-C"}}).None() {
		t.Errorf("feedback with edits should not report none")
	}
	if (&PlanFeedback{NewRequirements: []string{"add ESD protection"}}).None() {
		t.Errorf("feedback with new requirements should not report none")
	}
}
