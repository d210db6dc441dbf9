package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// Minimal Twilio Markup Language responses used at the adapter boundary.
// Intentionally avoids any provider SDK dependency.

// operatorClientIdentity is the Twilio Voice client identity the staff
// portal registers under. One operator client per browser session.
const operatorClientIdentity = "operator"

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlPause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr,omitempty"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlReject struct {
	XMLName xml.Name `xml:"Reject"`
	Reason  string   `xml:"reason,attr,omitempty"`
}

type twimlDial struct {
	XMLName xml.Name `xml:"Dial"`
	Client  string   `xml:"Client,omitempty"`
	Number  string   `xml:"Number,omitempty"`
}

// HoldTwiML parks an inbound leg while the operator decides whether to answer.
func HoldTwiML() string {
	out, _ := renderTwiML(twimlPause{Length: 40})
	return out
}

// HangupTwiML terminates the current leg.
func HangupTwiML() string {
	out, _ := renderTwiML(twimlHangup{})
	return out
}

// RejectTwiML declines an inbound leg without answering it.
func RejectTwiML() string {
	out, _ := renderTwiML(twimlReject{Reason: "busy"})
	return out
}

// DialClientTwiML bridges the call leg to the operator's registered client.
func DialClientTwiML(identity string) (string, error) {
	if strings.TrimSpace(identity) == "" {
		return "", errors.New("telephony: client identity required")
	}
	return renderTwiML(twimlDial{Client: identity})
}

func renderTwiML(verbs ...any) (string, error) {
	r := twimlResponse{Verbs: verbs}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
