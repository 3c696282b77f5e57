package origin

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		in       string
		want     string
		wantHost string
		wantOK   bool
	}{
		{"https://app.example.com", "https://app.example.com", "app.example.com", true},
		{"https://App.Example.com:443", "https://app.example.com", "app.example.com", true},
		{"http://localhost:3000", "http://localhost:3000", "localhost:3000", true},
		{"http://localhost:80", "http://localhost", "localhost", true},
		{"https://[::1]:8443", "https://[::1]:8443", "[::1]:8443", true},
		{"  https://a.example  ", "https://a.example", "a.example", true},

		{"", "", "", false},
		{"app.example.com", "", "", false},
		{"ftp://app.example.com", "", "", false},
		{"https://user@app.example.com", "", "", false},
		{"https://app.example.com/path", "", "", false},
		{"https://app.example.com?x=1", "", "", false},
		{"https://app.example.com:0", "", "", false},
		{"https://app.example.com:99999", "", "", false},
		{"https://[::1", "", "", false},
	}

	for _, tt := range tests {
		got, host, ok := Normalize(tt.in)
		if got != tt.want || host != tt.wantHost || ok != tt.wantOK {
			t.Errorf("Normalize(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.in, got, host, ok, tt.want, tt.wantHost, tt.wantOK)
		}
	}
}

func TestIsAllowed_AllowList(t *testing.T) {
	allowed := []string{"https://app.example.com", "http://localhost:3000"}

	if !IsAllowed("https://app.example.com", "app.example.com", "rendezvous.example.com", allowed) {
		t.Errorf("listed origin rejected")
	}
	if IsAllowed("https://evil.example.com", "evil.example.com", "rendezvous.example.com", allowed) {
		t.Errorf("unlisted origin accepted")
	}
	if !IsAllowed("https://anything.example", "anything.example", "host", []string{"*"}) {
		t.Errorf("wildcard rejected")
	}
}

func TestIsAllowed_SameHostDefault(t *testing.T) {
	if !IsAllowed("https://rendezvous.example.com", "rendezvous.example.com", "rendezvous.example.com", nil) {
		t.Errorf("same host rejected")
	}
	// Default ports are equivalent.
	if !IsAllowed("https://rendezvous.example.com", "rendezvous.example.com", "rendezvous.example.com:443", nil) {
		t.Errorf("default port treated as distinct")
	}
	if IsAllowed("https://other.example.com", "other.example.com", "rendezvous.example.com", nil) {
		t.Errorf("cross host accepted")
	}
}
