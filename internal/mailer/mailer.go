// Package mailer renders transactional emails and hands them to a Sender.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
)

// Kind selects an email template.
type Kind string

const (
	KindVerification         Kind = "verification"
	KindWelcome              Kind = "welcome"
	KindPasswordReset        Kind = "password_reset"
	KindPasswordResetSuccess Kind = "password_reset_success"
)

// Message is a rendered email.
type Message struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html"`
}

// Sender delivers rendered messages.
type Sender interface {
	Deliver(ctx context.Context, msg Message) error
}

type template struct {
	subject string
	text    *texttemplate.Template
	html    *htmltemplate.Template
}

// Mailer renders a template for a Kind and delivers it.
type Mailer struct {
	from      string
	appURL    string
	sender    Sender
	templates map[Kind]template
}

// New creates a Mailer. appURL is the public frontend address used in links.
func New(sender Sender, from, appURL string) *Mailer {
	return &Mailer{
		from:      from,
		appURL:    strings.TrimRight(appURL, "/"),
		sender:    sender,
		templates: builtinTemplates(),
	}
}

// Send renders kind with params and delivers it to the recipient. Every
// template also sees AppURL.
func (m *Mailer) Send(ctx context.Context, to string, kind Kind, params map[string]string) error {
	tpl, ok := m.templates[kind]
	if !ok {
		return fmt.Errorf("email template %q not found", kind)
	}

	data := make(map[string]string, len(params)+1)
	for k, v := range params {
		data[k] = v
	}
	data["AppURL"] = m.appURL

	var text, html bytes.Buffer
	if err := tpl.text.Execute(&text, data); err != nil {
		return fmt.Errorf("render %s text: %w", kind, err)
	}
	if err := tpl.html.Execute(&html, data); err != nil {
		return fmt.Errorf("render %s html: %w", kind, err)
	}

	msg := Message{
		From:    m.from,
		To:      to,
		Subject: tpl.subject,
		Text:    text.String(),
		HTML:    html.String(),
	}
	if err := m.sender.Deliver(ctx, msg); err != nil {
		return fmt.Errorf("deliver %s email: %w", kind, err)
	}
	return nil
}
