package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/giginhq/gig-settlement/internal/rateLimit"
)

func TestLimitFor(t *testing.T) {
	cases := []struct {
		method string
		path   string
		class  string
	}{
		{http.MethodGet, "/v1/gigs/abc", "read"},
		{http.MethodGet, "/v1/conversations/abc/messages", "read"},
		{http.MethodPost, "/v1/gigs/abc/accept", "accept"},
		{http.MethodPost, "/v1/gigs/abc/negotiations", "write"},
		{http.MethodPost, "/v1/payments/callback", "write"},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(tc.method, tc.path, nil)
		class, lim := limitFor(r)
		if class != tc.class {
			t.Errorf("%s %s: class %q, want %q", tc.method, tc.path, class, tc.class)
		}
		if lim.Rate <= 0 || lim.Period <= 0 {
			t.Errorf("%s %s: degenerate limit %+v", tc.method, tc.path, lim)
		}
	}

	if rateLimit.AcceptLimit.Rate >= rateLimit.WriteLimit.Rate {
		t.Error("accept budget must be tighter than the general write budget")
	}
	if rateLimit.WriteLimit.Rate >= rateLimit.ReadLimit.Rate {
		t.Error("write budget must be tighter than the read budget")
	}
}
