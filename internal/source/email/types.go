package email

import "time"

// Envelope holds the parsed envelope data from an IMAP message.
type Envelope struct {
	MessageID string
	Subject   string
	From      string
	To        []string
	Date      time.Time
	Flags     []string // \Seen, \Flagged, \Answered, \Deleted
	UID       uint32
}

// FetchedMessage holds an envelope plus the message's text body and
// attachment metadata.
type FetchedMessage struct {
	Envelope    Envelope
	TextBody    string
	HTMLBody    string
	Attachments []MessageAttachment
}

// MessageAttachment holds metadata about a message attachment.
type MessageAttachment struct {
	Filename string
	Size     int64
	MIMEType string
}
