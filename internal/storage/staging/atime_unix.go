// atime_unix.go — чтение времени последнего доступа к файлу.
// Платформозависимый код для Unix-подобных систем.
package staging

import (
	"fmt"
	"io/fs"
	"syscall"
	"time"
)

// accessTime возвращает время последнего доступа к файлу.
func accessTime(info fs.FileInfo) (time.Time, error) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return time.Time{}, fmt.Errorf("время доступа недоступно для %s", info.Name())
	}
	return time.Unix(stat.Atim.Sec, stat.Atim.Nsec), nil
}
