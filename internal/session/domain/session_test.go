package domain

import (
	"errors"
	"testing"
)

func TestSplitCompositeToken(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		wantNonce  string
		wantBearer string
		wantErr    bool
	}{
		{name: "valid", token: "abc:xyz", wantNonce: "abc", wantBearer: "xyz"},
		{name: "bearer with colons", token: "nonce:a.b:c", wantNonce: "nonce", wantBearer: "a.b:c"},
		{name: "no separator", token: "abcdef", wantErr: true},
		{name: "empty nonce", token: ":xyz", wantErr: true},
		{name: "empty bearer", token: "abc:", wantErr: true},
		{name: "empty", token: "", wantErr: true},
		{name: "only separator", token: ":", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nonce, bearer, err := SplitCompositeToken(tt.token)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedToken) {
					t.Fatalf("err = %v, want ErrMalformedToken", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("SplitCompositeToken: %v", err)
			}
			if nonce != tt.wantNonce || bearer != tt.wantBearer {
				t.Errorf("got (%q, %q), want (%q, %q)", nonce, bearer, tt.wantNonce, tt.wantBearer)
			}
		})
	}
}

func TestFormatSplitRoundTrip(t *testing.T) {
	token := FormatCompositeToken("nonce-1", "header.payload.sig")
	nonce, bearer, err := SplitCompositeToken(token)
	if err != nil {
		t.Fatalf("SplitCompositeToken: %v", err)
	}
	if nonce != "nonce-1" || bearer != "header.payload.sig" {
		t.Errorf("round trip got (%q, %q)", nonce, bearer)
	}
}
