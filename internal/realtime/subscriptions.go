package realtime

import (
	"github.com/pulsesocial/pulse-go/internal/eventbus"
	"github.com/pulsesocial/pulse-go/internal/wire"
	"github.com/pulsesocial/pulse-go/pkg/logger"
)

// subscribeAllLocked issues the configured destination set on the current
// transport and starts a reader per subscription. Any previously held
// handles are released first so a resubscribe after reconnect cannot cause
// duplicate delivery. Callers hold s.mu.
func (s *Session) subscribeAllLocked(gen int) error {
	s.releaseSubsLocked()
	for _, dest := range s.cfg.Destinations {
		path := dest.expand(s.userID)
		sub, err := s.tr.Subscribe(path)
		if err != nil {
			return err
		}
		s.subs = append(s.subs, activeSub{dest: dest, sub: sub})
		logger.Debugf("%s: subscribed %s", s.cfg.Name, path)
		go s.readFrames(gen, dest, sub)
	}
	return nil
}

// releaseSubsLocked explicitly releases all subscription handles. Callers
// hold s.mu.
func (s *Session) releaseSubsLocked() {
	for _, as := range s.subs {
		if err := as.sub.Unsubscribe(); err != nil {
			logger.Debugf("%s: unsubscribe: %v", s.cfg.Name, err)
		}
	}
	s.subs = nil
}

// readFrames pumps one subscription until its channel closes, routing each
// frame onto the bus. A closed channel means the transport died, which
// hands control to the reconnect path.
func (s *Session) readFrames(gen int, dest Destination, sub subscription) {
	for fr := range sub.Frames() {
		if fr.Err != nil {
			logger.Warnf("%s: protocol error on %s: %v", s.cfg.Name, fr.Destination, fr.Err)
			s.bus.Emit(eventbus.Event{Kind: eventbus.KindError, Payload: fr.Err})
			continue
		}
		s.route(dest, fr.Body)
	}
	s.onTransportLost(gen, "transport closed")
}

// route decodes one inbound frame body and re-emits it under the named bus
// event. A malformed frame is logged and dropped; it must never take the
// session down or block subsequent frames.
func (s *Session) route(dest Destination, body []byte) {
	switch dest.Codec {
	case CodecNotification:
		evt, err := wire.DecodeNotificationEvent(body)
		if err != nil {
			logger.Warnf("%s: dropping frame: %v", s.cfg.Name, err)
			return
		}
		s.bus.Emit(eventbus.Event{Kind: eventbus.KindNotification, Payload: evt})
	default:
		evt, err := wire.DecodeChatEvent(body)
		if err != nil {
			logger.Warnf("%s: dropping frame: %v", s.cfg.Name, err)
			return
		}
		switch evt.Type {
		case wire.EventNewMessage, wire.EventMessageRead:
			s.bus.Emit(eventbus.Event{Kind: eventbus.KindMessage, Payload: evt})
		case wire.EventTyping:
			s.bus.Emit(eventbus.Event{Kind: eventbus.KindTyping, Payload: evt})
		case wire.EventUserOnline, wire.EventUserOffline:
			s.bus.Emit(eventbus.Event{Kind: eventbus.KindOnlineStatus, Payload: evt})
		}
	}
}
