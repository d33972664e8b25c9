package bridge

import (
	"context"
	"os/exec"
	"path/filepath"
	goruntime "runtime"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/normanking/cortexvoice/internal/logging"
)

// LogBridge exposes logging methods to the frontend
type LogBridge struct {
	ctx    context.Context
	logger *logging.Logger
}

// NewLogBridge creates a new log bridge
func NewLogBridge(logger *logging.Logger) *LogBridge {
	return &LogBridge{
		logger: logger,
	}
}

// Bind sets the Wails context and streams new log entries to the frontend
func (b *LogBridge) Bind(ctx context.Context) {
	b.ctx = ctx

	b.logger.SetOnLog(func(entry logging.LogEntry) {
		if b.ctx != nil {
			runtime.EventsEmit(b.ctx, "log:entry", entry)
		}
	})
}

// Log logs a message from the frontend
func (b *LogBridge) Log(level, component, message string, data map[string]interface{}) {
	switch level {
	case "debug":
		b.logger.Debug(component, message, data)
	case "warn":
		b.logger.Warn(component, message, data)
	case "error":
		b.logger.Error(component, message, nil, data)
	default:
		b.logger.Info(component, message, data)
	}
}

// LogDebug logs a debug message from the frontend
func (b *LogBridge) LogDebug(component, message string) {
	b.logger.Debug(component, message, nil)
}

// LogInfo logs an info message from the frontend
func (b *LogBridge) LogInfo(component, message string) {
	b.logger.Info(component, message, nil)
}

// LogWarn logs a warning message from the frontend
func (b *LogBridge) LogWarn(component, message string) {
	b.logger.Warn(component, message, nil)
}

// LogError logs an error message from the frontend
func (b *LogBridge) LogError(component, message string) {
	b.logger.Error(component, message, nil, nil)
}

// GetLogHistory returns recent log entries
func (b *LogBridge) GetLogHistory(limit int) []logging.LogEntry {
	return b.logger.GetHistory(limit)
}

// GetLogPath returns the current log file path
func (b *LogBridge) GetLogPath() string {
	return b.logger.GetLogPath()
}

// OpenLogDir opens the log directory in the system file manager
func (b *LogBridge) OpenLogDir() error {
	logDir := filepath.Dir(b.logger.GetLogPath())

	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", logDir)
	case "windows":
		cmd = exec.Command("explorer", logDir)
	default:
		cmd = exec.Command("xdg-open", logDir)
	}

	return cmd.Start()
}
