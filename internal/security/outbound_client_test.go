package security

import (
	"testing"
	"time"
)

func TestValidateOutboundURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{name: "Turnstileのエンドポイント", url: "https://challenges.cloudflare.com/turnstile/v0/siteverify", wantErr: false},
		{name: "空文字列", url: "", wantErr: true},
		{name: "httpスキーム", url: "http://challenges.cloudflare.com/siteverify", wantErr: true},
		{name: "ループバックIP", url: "https://127.0.0.1/siteverify", wantErr: true},
		{name: "メタデータIP", url: "https://169.254.169.254/latest", wantErr: true},
		{name: "プライベートIP", url: "https://10.0.0.5/verify", wantErr: true},
		{name: "localhost", url: "https://localhost/verify", wantErr: true},
		{name: "ホストなし", url: "https:///verify", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOutboundURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateOutboundURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestNewOutboundClient_ReturnsClient(t *testing.T) {
	client := NewOutboundClient(3 * time.Second)
	if client == nil {
		t.Fatal("NewOutboundClient は nil を返してはならない")
	}
}
