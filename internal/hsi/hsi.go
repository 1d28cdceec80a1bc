// Пакет hsi — вызов внешней утилиты извлечения файлов из ленточного
// архива (HSI). Команда компонуется в одну shell-строку и выполняется
// под жёстким таймаутом; при неуспехе недокачанный файл удаляется.
package hsi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// Ошибки извлечения.
var (
	// ErrTimeout — извлечение превысило жёсткий таймаут.
	ErrTimeout = errors.New("таймаут извлечения файла из архива")
)

// Config — параметры вызова утилиты.
type Config struct {
	// BinPath — путь к бинарнику hsi.
	BinPath string
	// KeytabPath — путь к keytab-файлу аутентификации.
	KeytabPath string
	// User — имя пользователя архива.
	User string
	// FirewallMode — компоновать составную инструкцию "firewall -on; get ...".
	FirewallMode bool
	// Timeout — жёсткий таймаут процесса.
	Timeout time.Duration
}

// Runner — извлечение файла из архива в локальный путь.
type Runner interface {
	// Pull извлекает remotePath из архива в localPath.
	Pull(ctx context.Context, localPath, remotePath string) error
}

// CLIRunner — Runner поверх внешнего процесса hsi.
type CLIRunner struct {
	cfg    Config
	logger *slog.Logger
}

// NewCLIRunner создаёт Runner внешней утилиты.
func NewCLIRunner(cfg Config, logger *slog.Logger) *CLIRunner {
	return &CLIRunner{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "hsi")),
	}
}

// BuildCommand компонует shell-команду извлечения.
//
// Обычный режим:   <bin> -d2 -A keytab -k <keytab> -l <user> get <local> : <remote>
// Firewall-режим:  <bin> -d2 -A keytab -k <keytab> -l <user> "firewall -on; get <local> : <remote>"
//
// Пути подставляются в строку без экранирования — shell-метасимволы
// в имени коллекции попадут в команду как есть. Это сознательно
// сохранённое поведение исходной системы: входные пути доверенные,
// ужесточение валидации отвергло бы ранее принимавшиеся коллекции.
func BuildCommand(cfg Config, localPath, remotePath string) string {
	base := fmt.Sprintf("%s -d2 -A keytab -k %s -l %s",
		cfg.BinPath, cfg.KeytabPath, cfg.User)

	if cfg.FirewallMode {
		return fmt.Sprintf(`%s "firewall -on; get %s : %s"`, base, localPath, remotePath)
	}
	return fmt.Sprintf("%s get %s : %s", base, localPath, remotePath)
}

// Pull извлекает файл из архива. Процесс выполняется через `sh -c`
// под таймаутом cfg.Timeout; по истечении процесс принудительно
// завершается. При любом неуспехе частично записанный localPath
// удаляется, вызывающему возвращается ошибка (ErrTimeout при таймауте).
func (r *CLIRunner) Pull(ctx context.Context, localPath, remotePath string) error {
	cmdStr := BuildCommand(r.cfg, localPath, remotePath)
	r.logger.Debug("Команда извлечения", slog.String("cmd", cmdStr))

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", cmdStr)

	err := cmd.Run()
	if err == nil {
		r.logger.Debug("Извлечение завершено", slog.String("local", localPath))
		return nil
	}

	// Недокачанный файл не должен оставаться в staging
	if rmErr := os.Remove(localPath); rmErr != nil && !os.IsNotExist(rmErr) {
		r.logger.Error("Ошибка удаления недокачанного файла",
			slog.String("local", localPath),
			slog.String("error", rmErr.Error()),
		)
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		r.logger.Error("Таймаут извлечения из архива",
			slog.String("remote", remotePath),
			slog.Duration("timeout", r.cfg.Timeout),
		)
		return fmt.Errorf("%w: %s", ErrTimeout, remotePath)
	}

	return fmt.Errorf("утилита извлечения завершилась с ошибкой: %w", err)
}
