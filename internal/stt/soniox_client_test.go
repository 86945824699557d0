package stt

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/voxwire/voicebot/internal/config"
)

func sonioxForTest() *SonioxClient {
	cfg := &config.Config{
		CircuitBreakerMaxFailures:  3,
		CircuitBreakerResetTimeout: 5,
	}
	return NewSonioxClient(cfg, zerolog.Nop())
}

func TestSonioxDeliverAfterClose(t *testing.T) {
	client := sonioxForTest()

	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// The read loop may still be unwinding when Close runs; a late result
	// must be dropped, not sent on the closed channel.
	client.deliver(Result{Text: "late result", IsFinal: true})

	if _, ok := <-client.Results(); ok {
		t.Fatal("expected results channel closed with nothing buffered")
	}
}

func TestSonioxCloseIsIdempotent(t *testing.T) {
	client := sonioxForTest()

	if err := client.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestSonioxDeliverDropsWhenChannelFull(t *testing.T) {
	client := sonioxForTest()

	for i := 0; i < cap(client.results)+5; i++ {
		client.deliver(Result{Text: "chunk", IsFinal: false})
	}
	// deliver never blocks; overflow is dropped.
	if len(client.results) != cap(client.results) {
		t.Fatalf("buffered %d results, want %d", len(client.results), cap(client.results))
	}
}

func TestNormalizeText(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"hello  there", "hello there"},
		{"  leading and trailing  ", "leading and trailing"},
		{"\ttabs\nand newlines", "tabs and newlines"},
		{"", ""},
		{"   ", ""},
	}
	for _, tc := range cases {
		if got := normalizeText(tc.in); got != tc.want {
			t.Fatalf("normalizeText(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
