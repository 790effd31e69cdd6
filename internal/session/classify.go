package session

import "strings"

// Line prefixes emitted by the login script. The QR payload is the login
// URL itself; the expiry notice is printed verbatim by the upstream script,
// hence the fixed Chinese marker.
const (
	qrPayloadPrefix = "https://plogin.m.jd.com/cgi-bin"
	expiryPrefix    = "二维码已失效"
	successPrefix   = "pt_key="
)

type EventKind int

const (
	EventUnrecognized EventKind = iota
	EventQRPayload
	EventExpiry
	EventSuccessToken
)

// Event is one classified line of login-process output.
type Event struct {
	Kind    EventKind
	Payload string
}

// Classify tags a single output line. Anything that matches none of the
// known prefixes is EventUnrecognized and is ignored by the orchestrator.
func Classify(line string) Event {
	switch {
	case strings.HasPrefix(line, qrPayloadPrefix):
		return Event{Kind: EventQRPayload, Payload: line}
	case strings.HasPrefix(line, expiryPrefix):
		return Event{Kind: EventExpiry, Payload: line}
	case strings.HasPrefix(line, successPrefix):
		return Event{Kind: EventSuccessToken, Payload: line}
	default:
		return Event{Kind: EventUnrecognized, Payload: line}
	}
}
