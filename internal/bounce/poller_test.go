package bounce

import (
	"bytes"
	"testing"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailprobe/internal/settings"
)

type scriptedSession struct {
	ids      []uint32
	messages []*imap.Message

	selected  string
	loggedOut bool
}

func (s *scriptedSession) Select(name string, readOnly bool) (*imap.MailboxStatus, error) {
	s.selected = name
	return &imap.MailboxStatus{Name: name}, nil
}

func (s *scriptedSession) Search(criteria *imap.SearchCriteria) ([]uint32, error) {
	return s.ids, nil
}

func (s *scriptedSession) Fetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error {
	for _, m := range s.messages {
		ch <- m
	}
	close(ch)
	return nil
}

func (s *scriptedSession) Logout() error {
	s.loggedOut = true
	return nil
}

func bounceMessage(subject, body string) *imap.Message {
	section := &imap.BodySectionName{}
	raw := "Subject: " + subject + "\r\n" +
		"From: Mail Delivery Subsystem <mailer-daemon@example.org>\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" + body
	return &imap.Message{
		Envelope: &imap.Envelope{Subject: subject},
		Body: map[*imap.BodySectionName]imap.Literal{
			section: bytes.NewBufferString(raw),
		},
	}
}

func TestPollBouncesExtractsFailedRecipients(t *testing.T) {
	sess := &scriptedSession{
		ids: []uint32{1, 2, 3},
		messages: []*imap.Message{
			bounceMessage("Undeliverable: Email Verification - batch_1_x",
				"Your message wasn't delivered to ghost@example.org"),
			bounceMessage("Weekly newsletter", "nothing to see"),
			bounceMessage("Mail delivery failed: returning message to sender",
				"Unknown address: <gone@example.org>"),
		},
	}

	orig := dialIMAP
	dialIMAP = func(acct settings.SMTPAccount) (imapSession, error) { return sess, nil }
	defer func() { dialIMAP = orig }()

	failed, err := pollBounces(settings.SMTPAccount{Address: "probe@one.example"}, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, []string{"ghost@example.org", "gone@example.org"}, failed)
	assert.Equal(t, "INBOX", sess.selected)
	assert.True(t, sess.loggedOut)
}

func TestPollBouncesEmptyInbox(t *testing.T) {
	sess := &scriptedSession{}
	orig := dialIMAP
	dialIMAP = func(acct settings.SMTPAccount) (imapSession, error) { return sess, nil }
	defer func() { dialIMAP = orig }()

	failed, err := pollBounces(settings.SMTPAccount{Address: "probe@one.example"}, zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, failed)
}
