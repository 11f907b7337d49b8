// Package email delivers ticket notification mail.
package email

import "context"

// Message is one outbound email. Cc and Bcc hold zero or more addresses;
// HTMLBody carries the composed ticket message.
type Message struct {
	From     string
	To       []string
	Cc       []string
	Bcc      []string
	Subject  string
	HTMLBody string
}

// Sender delivers a message. Implementations report success or failure only;
// retry policy belongs to the caller.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}
