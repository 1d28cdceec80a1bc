package service

import "errors"

// Ошибки уровня сервисов. Обработчики HTTP транслируют их в статус-коды.
var (
	// ErrJobNotFound — задание не существует.
	ErrJobNotFound = errors.New("задание не найдено")
	// ErrForbidden — запрошенная операция не разрешена
	// (чужое задание, невалидный токен).
	ErrForbidden = errors.New("операция запрещена")
	// ErrJobNotReady — задание ещё не завершено, токен выдать нельзя.
	ErrJobNotReady = errors.New("задание ещё не завершено")
	// ErrTokenNotFound — токен не существует.
	ErrTokenNotFound = errors.New("токен не найден")
	// ErrTokenInvalid — токен просрочен, исчерпан или отключён.
	ErrTokenInvalid = errors.New("токен недействителен")
)
