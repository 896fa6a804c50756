package admin

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"VPN-Manager-bot/internal/logger"

	"go.uber.org/zap"
)

// BackupDatabase создает дамп БД Postgres в указанный файл
func BackupDatabase(filename string, dsn string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	cmd := exec.CommandContext(ctx, "pg_dump", dsn, "-Fc", "-f", filename)
	return cmd.Run()
}

// RestoreDatabase восстанавливает БД из дампа
func RestoreDatabase(filename string, dsn string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	cmd := exec.CommandContext(ctx, "pg_restore", "-d", dsn, filename)
	return cmd.Run()
}

// CleanOldBackups удаляет все дампы старше maxAge в директории dir
func CleanOldBackups(dir string, maxAge time.Duration) error {
	files, err := filepath.Glob(filepath.Join(dir, "*backup_*.dump"))
	if err != nil {
		return err
	}
	files2, err := filepath.Glob(filepath.Join(dir, "*autobackup_*.dump"))
	if err != nil {
		return err
	}
	files = append(files, files2...)
	cutoff := time.Now().Add(-maxAge)
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(f)
		}
	}
	return nil
}

// AutoBackupDatabase запускает ночной бэкап и чистку старых дампов.
// Об ошибке бэкапа уведомляется админ: молча пропущенная ночь
// обнаружилась бы только при попытке восстановления.
func AutoBackupDatabase(dsn string) {
	defer logger.NotifyOnPanic("AutoBackupDatabase")
	backupDir := "backups"
	os.MkdirAll(backupDir, 0o755)
	filename := filepath.Join(backupDir, "autobackup_"+time.Now().Format("20060102_150405")+".dump")
	if err := BackupDatabase(filename, dsn); err != nil {
		logger.Error("Автобэкап БД не удался", zap.Error(err))
		logger.NotifyAdmin("Автобэкап БД не удался: " + err.Error())
		return
	}
	if err := CleanOldBackups(backupDir, 31*24*time.Hour); err != nil {
		logger.Warn("Не удалось почистить старые бэкапы", zap.Error(err))
	}
	logger.Info("Резервная копия БД создана", zap.String("file", filename))
}
