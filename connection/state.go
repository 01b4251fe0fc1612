// Package connection implements the SPDM connection state machine: version,
// capability, and algorithm negotiation; certificate retrieval;
// challenge/response authentication; and measurement exchange. A
// connection.State is shared by both a Requester and Responder endpoint,
// driven from opposite sides.
package connection

// State names one point in the connection lifecycle. Responder and
// Requester walk the same state graph; §4.7 describes the Responder view,
// the Requester view is symmetric (it advances when it consumes each
// response).
type State int

const (
	NotStarted State = iota
	AfterVersion
	AfterCapabilities
	Negotiated
	AfterDigests
	AfterCertificate
	Authenticated
	AfterMeasurements
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "NotStarted"
	case AfterVersion:
		return "AfterVersion"
	case AfterCapabilities:
		return "AfterCapabilities"
	case Negotiated:
		return "Negotiated"
	case AfterDigests:
		return "AfterDigests"
	case AfterCertificate:
		return "AfterCertificate"
	case Authenticated:
		return "Authenticated"
	case AfterMeasurements:
		return "AfterMeasurements"
	default:
		return "Unknown"
	}
}

// ResponseState models whether the Responder is free to answer normally.
type ResponseState int

const (
	ResponseNormal ResponseState = iota
	ResponseBusy
	ResponseNotReady
	ResponseNeedResync
)
