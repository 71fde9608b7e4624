package models

import "testing"

func TestClassifyChangePriority(t *testing.T) {
	tests := []struct {
		field string
		want  AlertPriority
	}{
		{"position", AlertPriorityHigh},
		{"job_title", AlertPriorityHigh},
		{"company", AlertPriorityHigh},
		{"company_id", AlertPriorityHigh},
		{"name", AlertPriorityMedium},
		{"full_name", AlertPriorityMedium},
		{"headline", AlertPriorityMedium},
		{"location", AlertPriorityLow},
		{"summary", AlertPriorityLow},
		{"", AlertPriorityLow},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			if got := ClassifyChangePriority(tt.field); got != tt.want {
				t.Errorf("ClassifyChangePriority(%q) = %s, want %s", tt.field, got, tt.want)
			}
		})
	}
}
