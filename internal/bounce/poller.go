package bounce

import (
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"go.uber.org/zap"

	"mailprobe/internal/settings"
)

// imapSession is the slice of the IMAP client the poller uses; tests
// provide a scripted implementation.
type imapSession interface {
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	Search(criteria *imap.SearchCriteria) ([]uint32, error)
	Fetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	Logout() error
}

// dialIMAP opens an authenticated session on the account's mailbox.
var dialIMAP = func(acct settings.SMTPAccount) (imapSession, error) {
	addr := fmt.Sprintf("%s:%d", acct.IMAPHost, acct.IMAPPort)
	c, err := client.DialTLS(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("imap dial %s: %w", addr, err)
	}
	if err := c.Login(acct.Address, acct.Password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("imap login %s: %w", acct.Address, err)
	}
	return c, nil
}

// pollBounces scans the account's inbox for unread bounce notifications
// and returns the extracted failed recipients. Fetching the body marks
// the messages seen, so each bounce is consumed exactly once.
func pollBounces(acct settings.SMTPAccount, log *zap.Logger) ([]string, error) {
	c, err := dialIMAP(acct)
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	if _, err := c.Select("INBOX", false); err != nil {
		return nil, fmt.Errorf("select inbox: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}

	ids, err := c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("search unseen: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchEnvelope}

	messages := make(chan *imap.Message, len(ids)+1)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, items, messages)
	}()

	var failed []string
	for msg := range messages {
		subject := ""
		if msg.Envelope != nil {
			subject = msg.Envelope.Subject
		}
		if !IsBounceSubject(subject) {
			continue
		}

		r := msg.GetBody(section)
		if r == nil {
			log.Warn("server returned no body for bounce message",
				zap.String("subject", subject))
			continue
		}
		body, err := readTextBody(r)
		if err != nil {
			log.Warn("bounce body unreadable", zap.Error(err))
			continue
		}
		if addr := ExtractFailedRecipient(body); addr != "" {
			failed = append(failed, addr)
			log.Info("bounce extracted",
				zap.String("address", addr),
				zap.String("account", acct.Address))
		}
	}

	if err := <-done; err != nil {
		return failed, fmt.Errorf("fetch: %w", err)
	}
	return failed, nil
}

// readTextBody flattens a message into searchable text: every inline
// text part plus attachment bodies, since DSNs often carry the detail
// in a message/delivery-status or message/rfc822 attachment.
func readTextBody(r io.Reader) (string, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Keep whatever was already readable.
			break
		}
		data, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		b.Write(data)
		b.WriteString("\n")
	}
	return b.String(), nil
}
