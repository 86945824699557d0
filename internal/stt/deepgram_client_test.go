package stt

import (
	"testing"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	"github.com/rs/zerolog"

	"github.com/voxwire/voicebot/internal/config"
)

func deepgramForTest() *DeepgramClient {
	cfg := &config.Config{
		CircuitBreakerMaxFailures:  3,
		CircuitBreakerResetTimeout: 5,
	}
	return NewDeepgramClient(cfg, zerolog.Nop())
}

func TestDeepgramMessageDeliversTranscript(t *testing.T) {
	client := deepgramForTest()

	client.handleMessage(&msginterfaces.MessageResponse{
		Type:    "Results",
		IsFinal: true,
		Channel: msginterfaces.Channel{
			Alternatives: []msginterfaces.Alternative{
				{Transcript: "hello there", Confidence: 0.93},
			},
		},
	})

	select {
	case res := <-client.Results():
		if res.Text != "hello there" || !res.IsFinal || res.Confidence != 0.93 {
			t.Fatalf("unexpected result: %+v", res)
		}
	default:
		t.Fatal("expected a recognition result")
	}
}

func TestDeepgramEmptyTranscriptIsDropped(t *testing.T) {
	client := deepgramForTest()

	client.handleMessage(&msginterfaces.MessageResponse{Type: "Results"})
	client.handleMessage(&msginterfaces.MessageResponse{
		Type:    "Results",
		Channel: msginterfaces.Channel{Alternatives: []msginterfaces.Alternative{{Transcript: ""}}},
	})
	client.handleMessage(nil)

	select {
	case res := <-client.Results():
		t.Fatalf("expected no result, got %+v", res)
	default:
	}
}

func TestDeepgramErrorCallbackSeesCodeAndMessage(t *testing.T) {
	var gotCode, gotMsg string
	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		errorHandler: func(errorResponse *msginterfaces.ErrorResponse) error {
			gotCode = errorResponse.ErrCode
			gotMsg = errorResponse.ErrMsg
			return nil
		},
	}

	err := callback.Error(&msginterfaces.ErrorResponse{
		Type:    "Error",
		ErrCode: "NET-0001",
		ErrMsg:  "upstream connection lost",
	})
	if err != nil {
		t.Fatalf("Error callback failed: %v", err)
	}
	if gotCode != "NET-0001" || gotMsg != "upstream connection lost" {
		t.Fatalf("callback saw code=%q msg=%q", gotCode, gotMsg)
	}
}

func TestDeepgramDeliverAfterClose(t *testing.T) {
	client := deepgramForTest()

	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// A provider callback racing Close must drop its result, not send on the
	// closed channel.
	client.deliver(Result{Text: "late result", IsFinal: true})

	if _, ok := <-client.Results(); ok {
		t.Fatal("expected results channel closed with nothing buffered")
	}
}

func TestDeepgramCloseIsIdempotent(t *testing.T) {
	client := deepgramForTest()

	if err := client.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}
