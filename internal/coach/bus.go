package coach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-coach/internal/protocol"
	"github.com/loqalabs/loqa-coach/internal/upstream"
)

const controlTimeout = 5 * time.Second

type route struct {
	subject string
	handler nats.MsgHandler
}

// Subscribe attaches the service to the bus subjects it consumes.
func (s *Service) Subscribe(conn *nats.Conn) error {
	handlers := []route{
		{protocol.Wildcard(protocol.SubjectFragmentPrefix), s.handleFragment},
		{protocol.Wildcard(protocol.SubjectControlPrefix), s.handleControl},
		{protocol.Wildcard(protocol.SubjectHeartbeatPrefix), s.handleHeartbeat},
		{protocol.Wildcard(protocol.SubjectEndPrefix), s.handleEnd},
	}
	if s.cfg.STTBridge {
		handlers = append(handlers,
			route{protocol.SubjectTranscriptPartial, s.handleTranscript},
			route{protocol.SubjectTranscriptFinal, s.handleTranscript},
		)
	}

	var subs []*nats.Subscription
	for _, h := range handlers {
		sub, err := conn.Subscribe(h.subject, h.handler)
		if err != nil {
			for _, prev := range subs {
				_ = prev.Unsubscribe()
			}
			return fmt.Errorf("subscribe %s: %w", h.subject, err)
		}
		subs = append(subs, sub)
	}

	s.mu.Lock()
	s.subs = append(s.subs, subs...)
	s.mu.Unlock()
	s.log.Info("coach subscribed", slog.Int("subjects", len(subs)), slog.Bool("stt_bridge", s.cfg.STTBridge))
	return nil
}

func (s *Service) handleFragment(msg *nats.Msg) {
	id, ok := protocol.SessionFromSubject(protocol.SubjectFragmentPrefix, msg.Subject)
	if !ok {
		return
	}
	var f protocol.Fragment
	if err := json.Unmarshal(msg.Data, &f); err != nil {
		s.log.Warn("failed to decode fragment", slog.String("session_id", id), slogError(err))
		return
	}
	if err := s.Fragment(s.ctx, id, f); err != nil {
		s.log.Debug("fragment dropped", slog.String("session_id", id), slogError(err))
	}
}

func (s *Service) handleControl(msg *nats.Msg) {
	id, ok := protocol.SessionFromSubject(protocol.SubjectControlPrefix, msg.Subject)
	if !ok {
		return
	}
	var reply protocol.ControlReply
	var ctl protocol.Control
	if err := json.Unmarshal(msg.Data, &ctl); err != nil {
		reply.Error = fmt.Sprintf("decode control: %v", err)
	} else {
		ctx, cancel := context.WithTimeout(s.ctx, controlTimeout)
		reply, _ = s.Control(ctx, id, ctl)
		cancel()
	}
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		s.log.Warn("failed to marshal control reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.log.Warn("failed to respond to control", slog.String("session_id", id), slogError(err))
	}
}

func (s *Service) handleHeartbeat(msg *nats.Msg) {
	id, ok := protocol.SessionFromSubject(protocol.SubjectHeartbeatPrefix, msg.Subject)
	if !ok {
		return
	}
	var hb protocol.Heartbeat
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		s.log.Warn("invalid heartbeat message", slogError(err))
		return
	}
	if hb.End {
		s.endStream(id)
		return
	}
	s.mu.Lock()
	mon := s.upstream
	s.mu.Unlock()
	if mon != nil {
		mon.Beat(id, hb.Timestamp)
	}
}

func (s *Service) handleEnd(msg *nats.Msg) {
	id, ok := protocol.SessionFromSubject(protocol.SubjectEndPrefix, msg.Subject)
	if !ok {
		return
	}
	s.endStream(id)
}

func (s *Service) endStream(id string) {
	s.mu.Lock()
	mon := s.upstream
	s.mu.Unlock()
	if mon != nil {
		mon.End(id)
		return
	}
	s.UpstreamLost(id, upstream.ReasonEnded)
}

// handleTranscript bridges the speech service's transcript subjects.
func (s *Service) handleTranscript(msg *nats.Msg) {
	var t protocol.Transcript
	if err := json.Unmarshal(msg.Data, &t); err != nil {
		s.log.Warn("failed to decode transcript", slogError(err))
		return
	}
	if _, ok := s.lookup(t.SessionID); !ok {
		return
	}
	f := s.bridge.fragment(t)
	if err := s.Fragment(s.ctx, t.SessionID, f); err != nil && !errors.Is(err, ErrUnknownSession) {
		s.log.Debug("bridged transcript dropped", slog.String("session_id", t.SessionID), slogError(err))
	}
}

// sttBridge turns speech-service transcripts into fragments. A transcript
// without an audio offset is placed one past the highest offset the session
// has seen, so it never lands on an earlier fragment: partials revise that
// utterance and a final closes it.
type sttBridge struct {
	mu      sync.Mutex
	streams map[string]*bridgeStream
}

type bridgeStream struct {
	high int64
	open int64
}

func newSTTBridge() *sttBridge {
	return &sttBridge{streams: make(map[string]*bridgeStream)}
}

func (b *sttBridge) fragment(t protocol.Transcript) protocol.Fragment {
	f := protocol.Fragment{SessionID: t.SessionID, Text: t.Text, IsFinal: !t.Partial, StartOffset: t.StartOffset}
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.streams[t.SessionID]
	if !ok {
		st = &bridgeStream{high: -1, open: -1}
		b.streams[t.SessionID] = st
	}
	if t.StartOffset > 0 {
		st.high = max(st.high, t.StartOffset)
		return f
	}
	if st.open < 0 {
		st.open = st.high + 1
		st.high = st.open
	}
	f.StartOffset = st.open
	if f.IsFinal {
		st.open = -1
	}
	return f
}

func (b *sttBridge) reset(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.streams, id)
}

func (b *sttBridge) forget(id string) { b.reset(id) }
