package resilience

import "testing"

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		input string
		want  Severity
	}{
		{"LOW", SeverityLow},
		{"low", SeverityLow},
		{"Medium", SeverityMedium},
		{"HIGH", SeverityHigh},
		{" critical ", SeverityCritical},
		{"unknown", SeverityMedium},
		{"", SeverityMedium},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseSeverity(tt.input); got != tt.want {
				t.Errorf("ParseSeverity(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestSeverityAtLeast(t *testing.T) {
	if !SeverityCritical.AtLeast(SeverityHigh) {
		t.Error("CRITICAL should rank at least HIGH")
	}
	if !SeverityHigh.AtLeast(SeverityHigh) {
		t.Error("HIGH should rank at least HIGH")
	}
	if SeverityMedium.AtLeast(SeverityHigh) {
		t.Error("MEDIUM should not rank at least HIGH")
	}
	if SeverityLow.AtLeast(SeverityMedium) {
		t.Error("LOW should not rank at least MEDIUM")
	}
}
