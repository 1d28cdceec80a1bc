package service

import (
	"os"
	"path/filepath"
	"testing"
)

func writeDenyList(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deny.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadDenyList(t *testing.T) {
	path := writeDenyList(t, "email,reason\nspam@example.edu,abuse\nBad@Example.edu,quota\n")

	deny, err := LoadDenyList(path)
	if err != nil {
		t.Fatalf("LoadDenyList() вернул ошибку: %v", err)
	}

	if len(deny) != 2 {
		t.Errorf("загружено %d записей, хотели 2", len(deny))
	}
	if _, ok := deny["spam@example.edu"]; !ok {
		t.Error("spam@example.edu отсутствует в списке")
	}
	// Адреса нормализуются к нижнему регистру
	if _, ok := deny["bad@example.edu"]; !ok {
		t.Error("bad@example.edu отсутствует (нормализация регистра)")
	}
}

func TestLoadDenyListEmptyPath(t *testing.T) {
	deny, err := LoadDenyList("")
	if err != nil {
		t.Fatalf("LoadDenyList(\"\") вернул ошибку: %v", err)
	}
	if len(deny) != 0 {
		t.Errorf("пустой путь дал %d записей, хотели 0", len(deny))
	}
}

func TestLoadDenyListColumnOrder(t *testing.T) {
	// Колонка email не обязана быть первой
	path := writeDenyList(t, "reason,email\nabuse,spam@example.edu\n")

	deny, err := LoadDenyList(path)
	if err != nil {
		t.Fatalf("LoadDenyList() вернул ошибку: %v", err)
	}
	if _, ok := deny["spam@example.edu"]; !ok {
		t.Error("адрес из второй колонки не загружен")
	}
}

func TestLoadDenyListMissingColumn(t *testing.T) {
	path := writeDenyList(t, "user,reason\nspam,abuse\n")

	if _, err := LoadDenyList(path); err == nil {
		t.Error("LoadDenyList() без колонки email не вернул ошибку")
	}
}

func TestLoadDenyListMissingFile(t *testing.T) {
	if _, err := LoadDenyList("/nonexistent/deny.csv"); err == nil {
		t.Error("LoadDenyList() несуществующего файла не вернул ошибку")
	}
}
