package service

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// LoadDenyList читает deny-list из CSV-файла с заголовком.
// Используется колонка email, остальные игнорируются.
// Адреса нормализуются к нижнему регистру. Пустой путь — пустой список.
func LoadDenyList(path string) (map[string]struct{}, error) {
	deny := make(map[string]struct{})
	if path == "" {
		return deny, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия deny-list %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return deny, nil
		}
		return nil, fmt.Errorf("ошибка чтения заголовка deny-list: %w", err)
	}

	emailCol := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), "email") {
			emailCol = i
			break
		}
	}
	if emailCol == -1 {
		return nil, fmt.Errorf("deny-list %s: колонка email не найдена", path)
	}

	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения deny-list: %w", err)
		}
		if emailCol >= len(record) {
			continue
		}
		email := strings.ToLower(strings.TrimSpace(record[emailCol]))
		if email != "" {
			deny[email] = struct{}{}
		}
	}

	return deny, nil
}
