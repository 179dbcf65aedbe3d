//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestMaskSecret(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"abc", "***"},
		{"1234567", "*******"},
		{"abcdefgh", "a******h"},
		{"0123456789abcdef", "01************ef"},
		{"0123456789abcdef0123456789abcdef", "0123" + strings.Repeat("*", 24) + "cdef"},
		{strings.Repeat("k", 64), "kkkk" + strings.Repeat("*", 32) + "kkkk"},
	}

	for _, tc := range cases {
		if got := maskSecret(tc.in); got != tc.want {
			t.Errorf("maskSecret(%q): expected %q, got %q", tc.in, tc.want, got)
		}
	}
}

func TestMaskSecretNeverLeaksShortValues(t *testing.T) {
	// Up to seven characters nothing is visible; the length still shows.
	for n := 1; n <= 7; n++ {
		in := strings.Repeat("x", n)
		want := strings.Repeat("*", n)
		if got := maskSecret(in); got != want {
			t.Errorf("maskSecret(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestIsMasked(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"", false},
		{"plainsecret", false},
		{"a*b", false},
		{"**", true},
		{"abcd************cdef", true},
	}

	for _, tc := range cases {
		if got := isMasked(tc.in); got != tc.want {
			t.Errorf("isMasked(%q): expected %v, got %v", tc.in, tc.want, got)
		}
	}
}
