package domain

import (
	"testing"
	"time"
)

func TestWeekSlug(t *testing.T) {
	monday := time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)
	if got := WeekSlug(monday); got != "week-of-2025-03-10" {
		t.Errorf("WeekSlug = %q", got)
	}
}

func TestItemTypeValidate(t *testing.T) {
	for _, typ := range []ItemType{ItemIssue, ItemCommit, ItemForumTopic} {
		if err := typ.Validate(); err != nil {
			t.Errorf("valid type %q rejected: %v", typ, err)
		}
	}
	if err := ItemType("pull-request").Validate(); err == nil {
		t.Error("unknown type accepted")
	}
}

func TestPublic(t *testing.T) {
	tests := []struct {
		status ArticleStatus
		want   bool
	}{
		{StatusPublished, true},
		{StatusDraft, false},
		{StatusGenerating, false},
		{StatusScheduled, false},
		{StatusFailed, false},
	}
	for _, tt := range tests {
		a := Article{Status: tt.status}
		if a.Public() != tt.want {
			t.Errorf("Public() with status %s = %v, want %v", tt.status, a.Public(), tt.want)
		}
	}
}
