package validator

import "testing"

func TestDeriveConfidencePassingCompletenessKeepsQuality(t *testing.T) {
	got := DeriveConfidence(ConfidenceInput{CompletenessPassed: true, Quality: 0.8})
	if got != 0.8 {
		t.Errorf("confidence = %v, want 0.8", got)
	}
}

func TestDeriveConfidenceFailedCompletenessHalves(t *testing.T) {
	got := DeriveConfidence(ConfidenceInput{CompletenessPassed: false, Quality: 0.8})
	if got != 0.4 {
		t.Errorf("confidence = %v, want 0.4", got)
	}
}

func TestDeriveConfidenceImprovingTrendBonus(t *testing.T) {
	got := DeriveConfidence(ConfidenceInput{
		CompletenessPassed: true, Quality: 0.8,
		PriorQuality: 0.5, HasPriorQuality: true,
	})
	if got <= 0.8 {
		t.Errorf("expected a bonus for an improving trend, got %v", got)
	}
}

func TestDeriveConfidenceClampedToUnitRange(t *testing.T) {
	got := DeriveConfidence(ConfidenceInput{
		CompletenessPassed: true, Quality: 0.99,
		PriorQuality: 0.1, HasPriorQuality: true,
	})
	if got > 1.0 {
		t.Errorf("confidence = %v, must not exceed 1.0", got)
	}
}
