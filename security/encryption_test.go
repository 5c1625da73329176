package security

import (
	"bytes"
	"context"
	"encoding/base64"
	"testing"
)

func TestNewEncryptor(t *testing.T) {
	tests := []struct {
		name        string
		key         []byte
		wantErr     bool
		wantEnabled bool
	}{
		{name: "empty key disables", key: nil, wantEnabled: false},
		{name: "32 byte key", key: make([]byte, 32), wantEnabled: true},
		{name: "short key", key: make([]byte, 16), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewEncryptor(tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewEncryptor() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && enc.IsEnabled() != tt.wantEnabled {
				t.Errorf("IsEnabled() = %v, want %v", enc.IsEnabled(), tt.wantEnabled)
			}
		})
	}
}

func TestEncryptor_SealOpen(t *testing.T) {
	ctx := context.Background()
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	enc, err := NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}

	plaintext := []byte(`{"client_id":"device"}`)
	sealed, err := enc.Seal(ctx, plaintext)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if bytes.Contains(sealed, plaintext) {
		t.Error("sealed output contains plaintext")
	}

	opened, err := enc.Open(ctx, sealed)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("Open() = %q, want %q", opened, plaintext)
	}

	sealed[len(sealed)-1] ^= 0xff
	if _, err := enc.Open(ctx, sealed); err == nil {
		t.Error("Open() of tampered data should fail")
	}
	if _, err := enc.Open(ctx, []byte("x")); err == nil {
		t.Error("Open() of short data should fail")
	}
}

func TestEncryptor_DisabledPassThrough(t *testing.T) {
	enc, _ := NewEncryptor(nil)
	data := []byte("plain")

	sealed, err := enc.Seal(context.Background(), data)
	if err != nil || !bytes.Equal(sealed, data) {
		t.Errorf("Seal() = %q, %v; want pass-through", sealed, err)
	}
}

func TestKeyFromBase64(t *testing.T) {
	key, _ := GenerateKey()
	got, err := KeyFromBase64(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("KeyFromBase64() error = %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Error("KeyFromBase64() did not round-trip")
	}
	if _, err := KeyFromBase64("not base64!"); err == nil {
		t.Error("KeyFromBase64() should reject invalid base64")
	}
	if _, err := KeyFromBase64(base64.StdEncoding.EncodeToString([]byte("short"))); err == nil {
		t.Error("KeyFromBase64() should reject short keys")
	}
}

func TestNewEventID(t *testing.T) {
	a, b := NewEventID(), NewEventID()
	if len(a) != 26 {
		t.Errorf("NewEventID() length = %d, want 26", len(a))
	}
	if a == b {
		t.Error("NewEventID() should be unique")
	}
}
