package mailer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/diagnosis/staybook/pkg/config"
)

func TestNew_SelectsTransport(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.EmailConfig
		want string
	}{
		{"dev mode wins", config.EmailConfig{DevMode: true, MailerSendKey: "key"}, "*mailer.DevMailer"},
		{"mailersend", config.EmailConfig{MailerSendKey: "key", SMTPFrom: "noreply@staybook.test"}, "*mailer.MailerSendClient"},
		{"smtp", config.EmailConfig{SMTPHost: "localhost", SMTPPort: 1025}, "*mailer.SMTPMailer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			switch New(tt.cfg).(type) {
			case *DevMailer:
				got = "*mailer.DevMailer"
			case *MailerSendClient:
				got = "*mailer.MailerSendClient"
			case *SMTPMailer:
				got = "*mailer.SMTPMailer"
			}
			if got != tt.want {
				t.Errorf("New() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSMTPMailer_Build(t *testing.T) {
	s := NewSMTPMailer("localhost", 1025, "StayBook", "noreply@staybook.test", "", "", false)
	raw := string(s.build(Message{
		ToEmail: "ada@example.com",
		ToName:  "Ada",
		Subject: "Your stay at Harbor View",
		Text:    "See you soon",
		HTML:    "<p>See you soon</p>",
	}, time.Date(2030, 3, 1, 9, 0, 0, 0, time.UTC)))

	for _, want := range []string{
		"From: \"StayBook\" <noreply@staybook.test>\r\n",
		"To: \"Ada\" <ada@example.com>\r\n",
		"Subject: Your stay at Harbor View\r\n",
		"Date: Fri, 01 Mar 2030 09:00:00 +0000\r\n",
		"Content-Type: text/plain; charset=utf-8",
		"Content-Type: text/html; charset=utf-8",
		"<p>See you soon</p>",
	} {
		if !strings.Contains(raw, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestSMTPMailer_RejectsEmptyRecipient(t *testing.T) {
	s := NewSMTPMailer("localhost", 1025, "", "noreply@staybook.test", "", "", false)
	if err := s.Send(context.Background(), Message{Subject: "x"}); err == nil {
		t.Fatal("expected error for empty recipient")
	}
}

func TestMailerSend_RequiresSender(t *testing.T) {
	m := NewMailerSend("key", "StayBook", "")
	if err := m.Send(context.Background(), Message{ToEmail: "ada@example.com"}); err == nil {
		t.Fatal("expected error without sender address")
	}
}
