package model

import (
	"testing"
	"time"
)

func activeToken() *DownloadToken {
	now := time.Now()
	return &DownloadToken{
		Token:        "0123456789abcdef0123456789abcdef",
		JobID:        "job-1",
		Status:       TokenStatusActive,
		DownloadCount: 0,
		MaxDownloads: 3,
		CreatedTime:  now,
		ExpiresAt:    now.Add(24 * time.Hour),
	}
}

func TestTokenIsValid(t *testing.T) {
	tok := activeToken()
	if !tok.IsValid() {
		t.Error("свежий active-токен должен быть валиден")
	}
}

func TestTokenIsValidExpiredByTime(t *testing.T) {
	tok := activeToken()
	tok.ExpiresAt = time.Now().Add(-time.Minute)

	if tok.IsValid() {
		t.Error("токен с истёкшим сроком не должен быть валиден")
	}
	if !tok.ShouldExpire() {
		t.Error("токен с истёкшим сроком должен подлежать переводу в expired")
	}
}

func TestTokenIsValidExhausted(t *testing.T) {
	tok := activeToken()
	tok.DownloadCount = 3

	if tok.IsValid() {
		t.Error("токен с исчерпанным лимитом не должен быть валиден")
	}
	if !tok.ShouldExpire() {
		t.Error("исчерпанный токен должен подлежать переводу в expired")
	}
}

func TestTokenIsValidDisabled(t *testing.T) {
	tok := activeToken()
	tok.Status = TokenStatusDisabled

	if tok.IsValid() {
		t.Error("disabled-токен не должен быть валиден")
	}
	// disabled не пересекал границ, sweep его не трогает
	if tok.ShouldExpire() {
		t.Error("disabled-токен без пересечённых границ не должен переводиться в expired")
	}
}

func TestRemainingDownloads(t *testing.T) {
	tok := activeToken()

	if got := tok.RemainingDownloads(); got != 3 {
		t.Errorf("RemainingDownloads() = %d, хотели 3", got)
	}

	tok.DownloadCount = 2
	if got := tok.RemainingDownloads(); got != 1 {
		t.Errorf("RemainingDownloads() = %d, хотели 1", got)
	}

	tok.DownloadCount = 5
	if got := tok.RemainingDownloads(); got != 0 {
		t.Errorf("RemainingDownloads() = %d, хотели 0", got)
	}
}

func TestJobStatusIsTerminal(t *testing.T) {
	terminal := []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s должен быть терминальным статусом", s)
		}
	}

	active := []JobStatus{JobStatusSubmitted, JobStatusProcessing}
	for _, s := range active {
		if s.IsTerminal() {
			t.Errorf("%s не должен быть терминальным статусом", s)
		}
	}
}
