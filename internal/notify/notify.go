// Пакет notify — отправка plain-text писем заказчикам через SMTP-relay.
// Три вида уведомлений: завершение (со ссылкой и сроком действия),
// сбой извлечения, отмена запроса. Отправка синхронная и best-effort:
// ошибки логируются вызывающим кодом и никогда не валят задание.
package notify

import (
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
)

// Notifier — уведомления заказчика о судьбе задания.
type Notifier interface {
	// Completion — архив готов, ссылка действительна 24 часа.
	Completion(recipient, filename string) error
	// Failure — извлечение не удалось.
	Failure(recipient, filename string) error
	// Cancellation — запрос отменён admission control.
	Cancellation(recipient, filename string) error
}

// SMTPNotifier — Notifier поверх net/smtp без аутентификации
// (внутренний mail relay).
type SMTPNotifier struct {
	// server — адрес SMTP-relay (host:port)
	server string
	// sender — адрес отправителя
	sender string
	// contact — контактный адрес поддержки, включается в каждое письмо
	contact string
	// downloadBase — база публичных ссылок (без завершающего /)
	downloadBase string
	logger       *slog.Logger
}

// NewSMTPNotifier создаёт SMTP-уведомитель.
func NewSMTPNotifier(server, sender, contact, downloadBase string, logger *slog.Logger) *SMTPNotifier {
	return &SMTPNotifier{
		server:       server,
		sender:       sender,
		contact:      contact,
		downloadBase: strings.TrimSuffix(downloadBase, "/"),
		logger:       logger.With(slog.String("component", "notifier")),
	}
}

// Completion отправляет письмо о готовности архива.
func (n *SMTPNotifier) Completion(recipient, filename string) error {
	link := n.downloadBase + "/" + filename
	return n.send(recipient,
		"Your requested archive is ready to download",
		completionBody(link, n.contact),
	)
}

// Failure отправляет письмо о сбое извлечения.
func (n *SMTPNotifier) Failure(recipient, filename string) error {
	return n.send(recipient,
		"Failed on retrieving your requested archive",
		failureBody(filename, n.contact),
	)
}

// Cancellation отправляет письмо об отмене запроса.
func (n *SMTPNotifier) Cancellation(recipient, filename string) error {
	return n.send(recipient,
		"Cancelled your request for archive",
		cancellationBody(filename, n.contact),
	)
}

// send отправляет plain-text письмо через relay без аутентификации.
func (n *SMTPNotifier) send(recipient, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		n.sender, recipient, subject, body)

	if err := smtp.SendMail(n.server, nil, n.sender, []string{recipient}, []byte(msg)); err != nil {
		return fmt.Errorf("ошибка отправки письма на %s: %w", recipient, err)
	}

	n.logger.Debug("Письмо отправлено",
		slog.String("recipient", recipient),
		slog.String("subject", subject),
	)
	return nil
}

// Тексты писем совпадают с принятыми в сервисе формулировками RDS.

func completionBody(link, contact string) string {
	return fmt.Sprintf(
		"You can now download your archive via the link below; please note that the link is valid only for 24 hours.\n%s\n\nPlease contact Research Data Services (RDS) at %s if you need any assistance.\n",
		link, contact)
}

func failureBody(filename, contact string) string {
	return fmt.Sprintf(
		"We encountered an issue when retrieving your requested archive:\n\n%s\n\nPlease contact Research Data Services (RDS) at %s for assistance.\n",
		filename, contact)
}

func cancellationBody(filename, contact string) string {
	return fmt.Sprintf(
		"SDS is currently processing its maximum number of requests. The system has cancelled your request.\n\nPlease resubmit your request for %s at a later time.\n\nPlease contact Research Data Services (RDS) at %s if you need any assistance.\n",
		filename, contact)
}
