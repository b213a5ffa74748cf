package middleware

import (
	"strings"
	"testing"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/model"
)

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"valid", "alice", "alice", false},
		{"valid with dash", "val-01_a", "val-01_a", false},
		{"trims whitespace", "  bob  ", "bob", false},
		{"empty", "", "", true},
		{"exactly 64", strings.Repeat("a", 64), strings.Repeat("a", 64), false},
		{"too long 65", strings.Repeat("a", 65), "", true},
		{"invalid chars", "al ice", "", true},
		{"sql injection", "a'; DROP--", "", true},
		{"unicode", "abcédef", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, errMsg := ValidateAddress(tt.input)
			if tt.wantErr && errMsg == "" {
				t.Errorf("expected error, got none")
			}
			if !tt.wantErr && errMsg != "" {
				t.Errorf("unexpected error: %s", errMsg)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidateID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    uint64
		wantErr bool
	}{
		{"valid", "42", 42, false},
		{"trims whitespace", " 7 ", 7, false},
		{"zero", "0", 0, true},
		{"negative", "-1", 0, true},
		{"not a number", "abc", 0, true},
		{"empty", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, errMsg := ValidateID("claimId", tt.input)
			if tt.wantErr && errMsg == "" {
				t.Errorf("expected error, got none")
			}
			if !tt.wantErr && errMsg != "" {
				t.Errorf("unexpected error: %s", errMsg)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestValidateClaimFilter(t *testing.T) {
	tests := []struct {
		name                                  string
		category, status, sort, limit, offset string
		want                                  model.ClaimFilter
		wantErr                               bool
	}{
		{
			name: "defaults",
			want: model.ClaimFilter{Sort: model.SortNewest, Limit: DefaultPage},
		},
		{
			name:     "all set",
			category: "health", status: "verified", sort: "most_stake", limit: "5", offset: "10",
			want: model.ClaimFilter{
				Category: model.CategoryHealth,
				Status:   model.StatusVerified,
				Sort:     model.SortMostStake,
				Limit:    5,
				Offset:   10,
			},
		},
		{name: "bad category", category: "sports", wantErr: true},
		{name: "bad status", status: "FALSE", wantErr: true},
		{name: "bad sort", sort: "random", wantErr: true},
		{name: "limit too large", limit: "101", wantErr: true},
		{name: "limit zero", limit: "0", wantErr: true},
		{name: "negative offset", offset: "-3", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, errMsg := ValidateClaimFilter(tt.category, tt.status, tt.sort, tt.limit, tt.offset)
			if tt.wantErr {
				if errMsg == "" {
					t.Errorf("expected error, got none")
				}
				return
			}
			if errMsg != "" {
				t.Fatalf("unexpected error: %s", errMsg)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

type claimRequest struct {
	Title     string   `validate:"required,min=10,max=200"`
	Category  string   `validate:"required,category"`
	Submitter string   `validate:"required,address"`
	Evidence  []string `validate:"max=2,dive,url"`
	Side      string   `validate:"omitempty,oneof=YES NO"`
}

func TestValidateStruct(t *testing.T) {
	valid := claimRequest{
		Title:     "The moon is made of rock",
		Category:  "science",
		Submitter: "alice",
		Evidence:  []string{"https://nasa.gov"},
	}

	tests := []struct {
		name    string
		mutate  func(r *claimRequest)
		wantMsg string
	}{
		{"valid", func(r *claimRequest) {}, ""},
		{"missing title", func(r *claimRequest) { r.Title = "" }, "title is required"},
		{"short title", func(r *claimRequest) { r.Title = "short" }, "title must be at least 10"},
		{"bad category", func(r *claimRequest) { r.Category = "sports" }, "category must be one of: news, science, politics, health, technology"},
		{"bad address", func(r *claimRequest) { r.Submitter = "a b" }, "submitter must be 1-64 characters of letters, digits, dash or underscore"},
		{"too many urls", func(r *claimRequest) { r.Evidence = []string{"https://a.io", "https://b.io", "https://c.io"} }, "evidence must be at most 2"},
		{"bad url", func(r *claimRequest) { r.Evidence = []string{"not a url"} }, "evidence[0] must contain valid URLs"},
		{"bad side", func(r *claimRequest) { r.Side = "MAYBE" }, "side must be one of: YES, NO"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			if got := ValidateStruct(r); got != tt.wantMsg {
				t.Errorf("ValidateStruct() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/accounts/alice", "/api/accounts/:address"},
		{"/api/accounts/alice/positions", "/api/accounts/:address/positions"},
		{"/api/claims/12", "/api/claims/12"},
		{"/health/live", "/health/live"},
	}
	for _, tt := range tests {
		if got := sanitizePath(tt.path); got != tt.want {
			t.Errorf("sanitizePath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
