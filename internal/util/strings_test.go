package util

import (
	"reflect"
	"testing"
)

func TestSafeTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"longer than max", "very-long-token-abc123", 8, "very-lon"},
		{"shorter than max", "short", 10, "short"},
		{"exact", "12345678", 8, "12345678"},
		{"negative", "test", -1, ""},
		{"empty", "", 5, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SafeTruncate(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("SafeTruncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestParseScopes(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"empty", "", nil},
		{"blank", "   ", nil},
		{"single", "openid", []string{"openid"}},
		{"mixed whitespace", "openid  profile\tapi1", []string{"openid", "profile", "api1"}},
		{"duplicates", "read write read", []string{"read", "write"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseScopes(tt.input); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseScopes(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestJoinScopes(t *testing.T) {
	if got := JoinScopes([]string{"openid", "profile"}); got != "openid profile" {
		t.Errorf("JoinScopes() = %q", got)
	}
}

func TestIntersect(t *testing.T) {
	got := Intersect([]string{"openid", "read", "write"}, []string{"write", "openid"})
	want := []string{"openid", "write"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Intersect() = %v, want %v", got, want)
	}
	if got := Intersect([]string{"a"}, nil); got != nil {
		t.Errorf("Intersect() with empty set = %v, want nil", got)
	}
}

func TestContainsAll(t *testing.T) {
	if !ContainsAll([]string{"a", "b"}, []string{"b"}) {
		t.Error("ContainsAll() = false, want true")
	}
	if ContainsAll([]string{"a"}, []string{"a", "c"}) {
		t.Error("ContainsAll() = true, want false")
	}
	if !ContainsAll(nil, nil) {
		t.Error("empty subset is contained in any set")
	}
}

func TestIsLoopbackHostname(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"localhost", true},
		{"127.0.0.1", true},
		{"127.1.2.3", true},
		{"[::1]", true},
		{"::1", true},
		{"0.0.0.0", false},
		{"example.com", false},
		{"10.0.0.1", false},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			if got := IsLoopbackHostname(tt.host); got != tt.want {
				t.Errorf("IsLoopbackHostname(%q) = %v, want %v", tt.host, got, tt.want)
			}
		})
	}

	if IsLoopbackIP("localhost") {
		t.Error("IsLoopbackIP(\"localhost\") = true, want false")
	}
}
