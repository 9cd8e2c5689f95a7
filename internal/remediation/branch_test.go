package remediation

import (
	"strings"
	"testing"
	"time"
)

func TestBranchName(t *testing.T) {
	at := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name   string
		stack  string
		entity string
		want   string
	}{
		{name: "plain", stack: "dns-pihole", entity: "pihole", want: "fix/drift-dns-pihole-pihole-20240115-103000"},
		{name: "uppercase and spaces", stack: "Media Stack", entity: "Plex", want: "fix/drift-media-stack-plex-20240115-103000"},
		{name: "shell syntax", stack: "x;rm -rf /", entity: "$(reboot)", want: "fix/drift-x-rm-rf-reboot-20240115-103000"},
		{name: "dots", stack: "..", entity: "a..b", want: "fix/drift-a.b-20240115-103000"},
		{name: "no stack", stack: "", entity: "web", want: "fix/drift-web-20240115-103000"},
		{name: "empty entity", stack: "site", entity: "???", want: "fix/drift-site-entity-20240115-103000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BranchName(tt.stack, tt.entity, at)
			if got != tt.want {
				t.Errorf("BranchName() = %q, want %q", got, tt.want)
			}
			if err := ValidateBranch(got); err != nil {
				t.Errorf("ValidateBranch(%q) error = %v", got, err)
			}
		})
	}
}

func TestBranchNameTruncatesLongSegments(t *testing.T) {
	got := BranchName(strings.Repeat("s", 100), strings.Repeat("e", 100), time.Unix(0, 0))
	if len(got) > maxBranchLen {
		t.Fatalf("BranchName() length = %d", len(got))
	}
	if !strings.Contains(got, strings.Repeat("s", maxSegmentLen)+"-"+strings.Repeat("e", maxSegmentLen)) {
		t.Errorf("BranchName() = %q", got)
	}
}

func TestValidateBranch(t *testing.T) {
	tests := []struct {
		name    string
		branch  string
		wantErr bool
	}{
		{name: "valid", branch: "fix/drift-web-1", wantErr: false},
		{name: "empty", branch: "", wantErr: true},
		{name: "leading dash", branch: "-delete", wantErr: true},
		{name: "space", branch: "fix drift", wantErr: true},
		{name: "semicolon", branch: "a;b", wantErr: true},
		{name: "backtick", branch: "a`id`", wantErr: true},
		{name: "double dot", branch: "a..b", wantErr: true},
		{name: "lock suffix", branch: "a.lock", wantErr: true},
		{name: "trailing slash", branch: "fix/", wantErr: true},
		{name: "reflog syntax", branch: "a@{1}", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBranch(tt.branch)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateBranch(%q) error = %v, wantErr %v", tt.branch, err, tt.wantErr)
			}
		})
	}
}
