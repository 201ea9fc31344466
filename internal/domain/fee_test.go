package domain

import (
	"testing"

	"github.com/google/uuid"
)

func TestParseFee(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"£100", 10000, false},
		{"100", 10000, false},
		{"110.50", 11050, false},
		{" £95 ", 9500, false},
		{"1,200", 120000, false},
		{"£0", 0, true},
		{"-10", 0, true},
		{"abc", 0, true},
		{"", 0, true},
		{"£", 0, true},
	}
	for _, c := range cases {
		got, err := ParseFee(c.in)
		if c.wantErr {
			if err != ErrInvalidFee {
				t.Errorf("ParseFee(%q): expected ErrInvalidFee, got %v", c.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseFee(%q): unexpected error %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseFee(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestFormatFee(t *testing.T) {
	if got := FormatFee(10000); got != "£100" {
		t.Errorf("FormatFee(10000) = %q", got)
	}
	if got := FormatFee(11050); got != "£110.50" {
		t.Errorf("FormatFee(11050) = %q", got)
	}
}

func TestCurrentFee_FallsBackToBudget(t *testing.T) {
	performer := uuid.New()
	g := &Gig{BudgetPence: 10000, Applicants: []ApplicantRecord{{ID: performer}}}
	if got := CurrentFee(g, performer); got != 10000 {
		t.Errorf("expected budget fallback 10000, got %d", got)
	}
	g.Applicants[0].FeePence = 12000
	if got := CurrentFee(g, performer); got != 12000 {
		t.Errorf("expected latest offer 12000, got %d", got)
	}
}

func TestProposeFee(t *testing.T) {
	oldFee, newFee, err := ProposeFee(10000, "£120")
	if err != nil {
		t.Fatal(err)
	}
	if oldFee != 10000 || newFee != 12000 {
		t.Errorf("got old=%d new=%d", oldFee, newFee)
	}
	if _, _, err := ProposeFee(10000, "free"); err != ErrInvalidFee {
		t.Errorf("expected ErrInvalidFee, got %v", err)
	}
}
