package registration

import (
	"context"
	"fmt"
	"net/smtp"
	"os"
	"strings"
	"sync"

	"github.com/jordan-wright/email"
)

// SuccessLog appends one line per confirmed registration to a text file.
type SuccessLog struct {
	Path string

	mutex sync.Mutex
}

func FormatSuccess(subject, label string) string {
	return fmt.Sprintf("%s  -  %s\n", subject, label)
}

func (l *SuccessLog) Append(subject, label string) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	f, err := os.OpenFile(l.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	_, err = f.WriteString(FormatSuccess(subject, label))
	if err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// EmailNotifier mails every confirmed registration.
type EmailNotifier struct {
	Server       string
	Port         int
	EmailAddress string
	Password     string
	To           []string
}

func (n EmailNotifier) NotifySuccess(ctx context.Context, payload Payload) error {
	mail := email.NewEmail()
	mail.From = fmt.Sprintf("Turma Sniper <%s>", n.EmailAddress)
	mail.To = n.To
	mail.Subject = fmt.Sprintf("Registered in %s - %s", payload.Subject.Name, payload.DesiredLabel)
	mail.Text = []byte(fmt.Sprintf(`You are now registered in %s of %s.

Zone: %s
Section: %s`, payload.DesiredLabel, payload.Subject.Name, payload.Zone, payload.Matched))

	addr := fmt.Sprintf("%s:%d", n.Server, n.Port)
	err := mail.Send(addr, smtp.PlainAuth("", n.EmailAddress, n.Password, n.Server))
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = mail.Send(addr, nil)
	}
	return err
}
