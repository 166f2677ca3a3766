package bounce

import (
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"mailprobe/internal/settings"
)

// sendVerification submits one probe message through the account's
// submission server. STARTTLS is negotiated when the server offers it.
func sendVerification(acct settings.SMTPAccount, to, subject string) error {
	addr := fmt.Sprintf("%s:%d", acct.SMTPHost, acct.SMTPPort)
	auth := sasl.NewPlainClient("", acct.Address, acct.Password)

	msg := buildMessage(acct.Address, to, subject)
	if err := smtp.SendMail(addr, auth, acct.Address, []string{to}, strings.NewReader(msg)); err != nil {
		return fmt.Errorf("send via %s: %w", acct.SMTPHost, err)
	}
	return nil
}

func buildMessage(from, to, subject string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: <%s>\r\n", from)
	fmt.Fprintf(&b, "To: <%s>\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: <%s@%s>\r\n", uuid.NewString(), domainOf(from))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString("This is an automated address verification message. No action is required.\r\n")
	return b.String()
}

func domainOf(address string) string {
	if i := strings.LastIndex(address, "@"); i >= 0 {
		return address[i+1:]
	}
	return "localhost"
}
