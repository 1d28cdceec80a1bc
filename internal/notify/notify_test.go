package notify

import (
	"log/slog"
	"os"
	"strings"
	"testing"
)

func testDiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestCompletionBody(t *testing.T) {
	body := completionBody("http://dl.example.edu/files/data.tar", "rds@example.edu")

	if !strings.Contains(body, "http://dl.example.edu/files/data.tar") {
		t.Error("письмо о готовности не содержит ссылку")
	}
	if !strings.Contains(body, "valid only for 24 hours") {
		t.Error("письмо о готовности не упоминает срок действия ссылки")
	}
	if !strings.Contains(body, "rds@example.edu") {
		t.Error("письмо о готовности не содержит контактный адрес")
	}
}

func TestFailureBody(t *testing.T) {
	body := failureBody("data.tar", "rds@example.edu")

	if !strings.Contains(body, "data.tar") {
		t.Error("письмо о сбое не содержит имя коллекции")
	}
	if !strings.Contains(body, "rds@example.edu") {
		t.Error("письмо о сбое не содержит контактный адрес")
	}
}

func TestCancellationBody(t *testing.T) {
	body := cancellationBody("data.tar", "rds@example.edu")

	if !strings.Contains(body, "resubmit your request for data.tar") {
		t.Error("письмо об отмене не предлагает повторить заявку")
	}
	if !strings.Contains(body, "maximum number of requests") {
		t.Error("письмо об отмене не объясняет причину")
	}
}

func TestCompletionLinkFromBase(t *testing.T) {
	logger := testDiscardLogger()
	// Завершающий / у базы отбрасывается, ссылка не содержит //
	n := NewSMTPNotifier("localhost:25", "noreply@example.edu", "rds@example.edu",
		"http://dl.example.edu/files/", logger)

	link := n.downloadBase + "/" + "data.tar"
	if link != "http://dl.example.edu/files/data.tar" {
		t.Errorf("ссылка = %q, хотели базу + / + basename", link)
	}
}
