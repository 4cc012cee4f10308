package horosafe

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://example.com/orders.csv", false},
		{"http://example.com/orders.csv", false},
		{"ftp://evil.com/data", true},
		{"javascript:alert(1)", true},
		{"http://127.0.0.1/admin", true},
		{"http://10.0.0.1/internal", true},
		{"http://192.168.1.1/api", true},
		{"http://[::1]/api", true},
		{"http://172.16.0.1/secret", true},
		{"https:///nohost", true},
	}
	for _, tt := range tests {
		err := ValidateURL(tt.url)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateURL(%q) error=%v, wantErr=%v", tt.url, err, tt.wantErr)
		}
	}
}

func TestValidateHTTPURL_AllowsLoopback(t *testing.T) {
	if err := ValidateHTTPURL("http://127.0.0.1:8080/#/robot-order"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateHTTPURL("file:///etc/passwd"); !errors.Is(err, ErrUnsafeScheme) {
		t.Fatalf("expected ErrUnsafeScheme, got %v", err)
	}
}

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"1", false},
		{"order-12_b.v2", false},
		{"", true},
		{"..", true},
		{"../etc", true},
		{"a/b", true},
		{"has space", true},
		{strings.Repeat("x", 257), true},
	}
	for _, tt := range tests {
		err := ValidateIdentifier(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateIdentifier(%q) error=%v, wantErr=%v", tt.in, err, tt.wantErr)
		}
	}
}

func TestLimitedReadAll(t *testing.T) {
	data, err := LimitedReadAll(strings.NewReader("hello"), 5)
	if err != nil || string(data) != "hello" {
		t.Fatalf("got %q, %v", data, err)
	}
	if _, err := LimitedReadAll(strings.NewReader("hello!"), 5); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}
