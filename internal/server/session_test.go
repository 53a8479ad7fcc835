package server

import (
	"testing"
	"time"
)

func TestDecodeText(t *testing.T) {
	tests := []struct {
		name      string
		data      []byte
		truncated bool
		want      string
		wantOK    bool
	}{
		{name: "plain", data: []byte("hello"), want: "hello", wantOK: true},
		{name: "spaces and nul padding", data: []byte("  hi there \x00\x00\x00"), want: "hi there", wantOK: true},
		{name: "only padding", data: []byte(" \x00 \x00  "), want: "", wantOK: true},
		{name: "inner padding kept", data: []byte("a \x00 b"), want: "a \x00 b", wantOK: true},
		{name: "tabs kept", data: []byte("\thi\n"), want: "\thi\n", wantOK: true},
		{name: "multibyte", data: []byte("héllo wörld"), want: "héllo wörld", wantOK: true},
		{name: "invalid utf8", data: []byte{0xff, 0xfe, 'a'}, wantOK: false},
		{name: "cut mid rune when truncated", data: []byte("abcd\xc3"), truncated: true, want: "abcd", wantOK: true},
		{name: "cut mid rune when not truncated", data: []byte("abcd\xc3"), wantOK: false},
		{name: "cut four byte rune", data: append([]byte("x"), "😀"[:3]...), truncated: true, want: "x", wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := decodeText(tt.data, tt.truncated)
			if ok != tt.wantOK {
				t.Fatalf("decodeText ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("decodeText = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTrimPartialRuneKeepsCompleteRunes(t *testing.T) {
	for _, s := range []string{"", "a", "é", "ab€", "😀"} {
		if got := string(trimPartialRune([]byte(s))); got != s {
			t.Errorf("trimPartialRune(%q) = %q", s, got)
		}
	}
}

func TestRateLimiterBurstThenRefill(t *testing.T) {
	rl := newRateLimiter(2, time.Second)
	now := time.Now()
	rl.lastCheck = now
	rl.now = func() time.Time { return now }

	if !rl.allow() || !rl.allow() {
		t.Fatal("Expected the initial burst to be allowed")
	}
	if rl.allow() {
		t.Fatal("Expected the third message to be limited")
	}

	now = now.Add(500 * time.Millisecond)
	if !rl.allow() {
		t.Error("Expected one token after half the refill interval")
	}
	if rl.allow() {
		t.Error("Expected the refilled token to be spent")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := newRateLimiter(0, time.Second)
	if rl != nil {
		t.Fatal("Expected a nil limiter for zero burst")
	}
	for i := 0; i < 100; i++ {
		if !rl.allow() {
			t.Fatal("Disabled limiter rejected a message")
		}
	}
}
