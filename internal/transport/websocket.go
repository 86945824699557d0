package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/voxwire/voicebot/internal/audio"
	"github.com/voxwire/voicebot/internal/config"
	"github.com/voxwire/voicebot/internal/frame"
	"github.com/voxwire/voicebot/internal/observability"
	"github.com/voxwire/voicebot/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin validation belongs in the deployment's edge proxy.
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// event is the JSON envelope for text messages sent to the client alongside
// the binary audio stream.
type event struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	TurnID string `json:"turn_id,omitempty"`
	Stage  string `json:"stage,omitempty"`
	Error  string `json:"error,omitempty"`
}

// conversationSocket owns one WebSocket connection and the session behind
// it. Inbound binary messages are PCM16 audio at the session sample rate;
// outbound binary messages are synthesized PCM16. JSON text messages carry
// transcripts and error events.
type conversationSocket struct {
	conn    *websocket.Conn
	session *session.Session
	config  *config.Config
	logger  zerolog.Logger

	vad      *audio.VADDetector
	outBuf   *audio.RingBuffer
	pending  []byte // inbound bytes not yet forming a full frame
	sequence uint64

	writeMu sync.Mutex // serializes writes from the outbound loop and events
}

// Handler returns the HTTP handler for the conversation WebSocket endpoint.
func Handler(cfg *config.Config, registry *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := observability.GetLogger()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error().Err(err).Msg("WebSocket upgrade failed")
			return
		}
		defer conn.Close()

		sess, err := session.New(cfg, logger)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create session")
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		if err := sess.Start(ctx); err != nil {
			logger.Error().Err(err).Msg("Failed to start session")
			return
		}
		registry.Add(sess)
		defer registry.Remove(sess.ID)
		defer sess.Close()

		sock := &conversationSocket{
			conn:    conn,
			session: sess,
			config:  cfg,
			logger:  observability.WithSession(sess.ID),
			vad: audio.NewVADDetector(&audio.VADConfig{
				EnergyThreshold: cfg.VADEnergyThreshold,
				SilenceFrames:   cfg.VADSilenceFrames,
				FrameSize:       cfg.FrameBytes() / 2,
			}),
			outBuf: audio.NewRingBuffer(cfg.AudioBufferSize),
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			sock.writeLoop(ctx)
		}()

		sock.readLoop(ctx, cancel)
		cancel()
		<-done
	}
}

// readLoop consumes the socket until it closes. Binary messages are
// re-chunked into fixed-size audio frames; each frame passes through voice
// activity detection before entering the pipeline.
func (s *conversationSocket) readLoop(ctx context.Context, cancel context.CancelFunc) {
	frameBytes := s.config.FrameBytes()

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			cancel()
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			observability.RecordAudioBytes("inbound", int64(len(data)))
			s.pending = append(s.pending, data...)
			for len(s.pending) >= frameBytes {
				chunk := make([]byte, frameBytes)
				copy(chunk, s.pending[:frameBytes])
				s.pending = s.pending[frameBytes:]
				if err := s.handleAudioFrame(ctx, chunk); err != nil {
					if ctx.Err() != nil {
						return
					}
					s.logger.Warn().Err(err).Msg("Failed to process audio frame")
				}
			}

		case websocket.TextMessage:
			s.handleTextMessage(ctx, data)
		}
	}
}

// handleAudioFrame runs VAD on one frame and pushes it into the pipeline.
// Speech onset triggers the barge-in path; speech end finalizes the
// utterance so recognition flushes a final transcript.
func (s *conversationSocket) handleAudioFrame(ctx context.Context, chunk []byte) error {
	samples, err := audio.BytesToSamples(chunk)
	if err != nil {
		return err
	}

	_, speechStarted, speechEnded := s.vad.ProcessFrame(samples)

	if speechStarted {
		if turnID, interrupted := s.session.Controller().OnAudioActivity(); interrupted {
			// Discard queued playback immediately; the control frame then
			// sweeps stale frames out of the stage queues.
			s.outBuf.Clear()
			if err := s.session.Push(ctx, frame.Control{CtrlKind: frame.ControlInterrupt, TurnID: turnID}); err != nil {
				return err
			}
			s.sendEvent(event{Type: "interrupted", TurnID: turnID})
		}
	}

	s.session.Controller().OnAudioChunk()

	s.sequence++
	if err := s.session.Push(ctx, frame.AudioChunk{
		Data:       chunk,
		SampleRate: s.config.SampleRate,
		Sequence:   s.sequence,
	}); err != nil {
		return err
	}

	if speechEnded {
		// Queued behind the utterance's audio frames, so recognition
		// finalizes only after the provider heard everything.
		if err := s.session.Push(ctx, frame.Control{CtrlKind: frame.ControlEndOfStream}); err != nil {
			return err
		}
	}
	return nil
}

// handleTextMessage processes a JSON control message from the client.
func (s *conversationSocket) handleTextMessage(ctx context.Context, data []byte) {
	var msg event
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to parse client message")
		return
	}
	switch msg.Type {
	case "flush":
		// Client-driven end of utterance, for transports without local VAD.
		if err := s.session.Push(ctx, frame.Control{CtrlKind: frame.ControlEndOfStream}); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to finalize utterance")
		}

	case "cancel":
		// The user asked the bot to stop without talking over it.
		turnID, cancelled := s.session.Controller().Cancel()
		if !cancelled {
			return
		}
		s.outBuf.Clear()
		if err := s.session.Push(ctx, frame.Control{CtrlKind: frame.ControlCancel, TurnID: turnID}); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to cancel turn")
			return
		}
		s.sendEvent(event{Type: "cancelled", TurnID: turnID})

	default:
		s.logger.Debug().Str("type", msg.Type).Msg("Unknown client message ignored")
	}
}

// writeLoop drains the pipeline output boundary: synthesized audio goes to
// the client through the outbound ring buffer, transcripts and errors go out
// as JSON events, and turn lifecycle callbacks fire at the playback edges.
func (s *conversationSocket) writeLoop(ctx context.Context) {
	ctrl := s.session.Controller()

	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-s.session.Out():
			if !ok {
				return
			}

			switch v := f.(type) {
			case frame.SynthesisChunk:
				if ctrl.IsAbandoned(v.TurnID) {
					continue
				}
				ctrl.OnSpeakingStarted(v.TurnID)
				s.streamAudio(v.TurnID, v.Data)

			case frame.SynthesisComplete:
				if !ctrl.IsAbandoned(v.TurnID) {
					s.flushAudio(v.TurnID)
				}
				ctrl.OnSpeakingComplete(v.TurnID)

			case frame.TranscriptPartial:
				s.sendEvent(event{Type: "transcript_partial", Text: v.Text})

			case frame.TranscriptFinal:
				s.sendEvent(event{Type: "transcript_final", Text: v.Text})

			case frame.GenerationComplete:
				if !ctrl.IsAbandoned(v.TurnID) {
					s.sendEvent(event{Type: "reply", Text: v.Text, TurnID: v.TurnID})
				}

			case frame.Control:
				if s.handleControl(v) {
					return
				}
			}
		}
	}
}

// handleControl reacts to control frames reaching the output boundary. It
// reports whether the session must be torn down.
func (s *conversationSocket) handleControl(c frame.Control) bool {
	switch c.CtrlKind {
	case frame.ControlInterrupt, frame.ControlCancel:
		// The sweep has passed through the queues; drop whatever it overtook.
		s.outBuf.Clear()

	case frame.ControlStageError:
		s.session.Controller().OnStageError(c.TurnID)
		s.outBuf.Clear()

		if c.Fatal {
			// Credential or configuration failure: no later turn can
			// succeed, so close the session instead of abandoning the turn.
			s.logger.Error().
				Str("stage", c.Stage).
				Str("error", c.Err).
				Msg("Fatal stage failure, closing session")
			s.sendEvent(event{Type: "session_error", Stage: c.Stage, Error: c.Err})
			s.conn.Close()
			return true
		}

		s.logger.Warn().
			Str("stage", c.Stage).
			Str("turn_id", c.TurnID).
			Str("error", c.Err).
			Msg("Turn failed")
		s.sendEvent(event{Type: "turn_error", TurnID: c.TurnID, Stage: c.Stage, Error: c.Err})
	}
	return false
}

// streamAudio pushes synthesized PCM through the ring buffer to the socket.
// The buffer smooths provider bursts and is the discard point on interrupt.
func (s *conversationSocket) streamAudio(turnID string, pcm []byte) {
	frameBytes := s.config.FrameBytes()

	for len(pcm) > 0 {
		written := s.outBuf.Write(pcm)
		pcm = pcm[written:]

		buf := make([]byte, frameBytes)
		for s.outBuf.Available() >= frameBytes {
			if s.session.Controller().IsAbandoned(turnID) {
				s.outBuf.Clear()
				return
			}
			n := s.outBuf.Read(buf)
			if n == 0 {
				break
			}
			if err := s.writeBinary(buf[:n]); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to send audio to client")
				return
			}
		}

		if written == 0 && len(pcm) > 0 {
			// Buffer wedged with a closed socket; drop the remainder.
			s.logger.Warn().Int("dropped", len(pcm)).Msg("Outbound audio buffer stalled")
			return
		}
	}
}

// flushAudio sends any buffered remainder at the end of a turn.
func (s *conversationSocket) flushAudio(turnID string) {
	buf := make([]byte, s.config.FrameBytes())
	for !s.outBuf.IsEmpty() {
		if s.session.Controller().IsAbandoned(turnID) {
			s.outBuf.Clear()
			return
		}
		n := s.outBuf.Read(buf)
		if n == 0 {
			return
		}
		if err := s.writeBinary(buf[:n]); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to flush audio to client")
			return
		}
	}
}

func (s *conversationSocket) writeBinary(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (s *conversationSocket) sendEvent(e event) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(e); err != nil {
		s.logger.Debug().Err(err).Str("type", e.Type).Msg("Failed to send event to client")
	}
}
