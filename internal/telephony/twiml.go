package telephony

import (
	"bytes"
	"encoding/xml"
)

// Minimal TwiML response builder. Only the verbs this service answers
// calls with are modeled; no provider SDK dependency.

const pollyVoice = "Polly.Joanna"

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type twimlRecord struct {
	XMLName                       xml.Name `xml:"Record"`
	Action                        string   `xml:"action,attr,omitempty"`
	Method                        string   `xml:"method,attr,omitempty"`
	MaxLength                     int      `xml:"maxLength,attr,omitempty"`
	PlayBeep                      bool     `xml:"playBeep,attr"`
	Trim                          string   `xml:"trim,attr,omitempty"`
	RecordingStatusCallback       string   `xml:"recordingStatusCallback,attr,omitempty"`
	RecordingStatusCallbackMethod string   `xml:"recordingStatusCallbackMethod,attr,omitempty"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlStart struct {
	XMLName xml.Name    `xml:"Start"`
	Stream  twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL  string `xml:"url,attr"`
	Name string `xml:"name,attr,omitempty"`
}

// TwiML accumulates verbs in order.
type TwiML struct {
	verbs []any
}

func NewTwiML() *TwiML { return &TwiML{} }

func (t *TwiML) Say(text string) *TwiML {
	t.verbs = append(t.verbs, twimlSay{Voice: pollyVoice, Text: text})
	return t
}

// Record captures a voicemail; the provider POSTs the recording callback
// to action when the recording is ready.
func (t *TwiML) Record(action string, maxLengthSeconds int) *TwiML {
	t.verbs = append(t.verbs, twimlRecord{
		Action:                        action,
		Method:                        "POST",
		MaxLength:                     maxLengthSeconds,
		PlayBeep:                      true,
		Trim:                          "do-not-trim",
		RecordingStatusCallback:       action,
		RecordingStatusCallbackMethod: "POST",
	})
	return t
}

func (t *TwiML) Hangup() *TwiML {
	t.verbs = append(t.verbs, twimlHangup{})
	return t
}

// StartStream opens a provider media stream to the given WebSocket URL.
func (t *TwiML) StartStream(url, name string) *TwiML {
	t.verbs = append(t.verbs, twimlStart{Stream: twimlStream{URL: url, Name: name}})
	return t
}

func (t *TwiML) Render() (string, error) {
	r := twimlResponse{Verbs: t.verbs}

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
