// Package notify 用户通知与 pending trades 文件
package notify

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/betbot/tradelink/internal/ports"
	"github.com/sirupsen/logrus"
)

var (
	_ ports.Notifier       = (*LogNotifier)(nil)
	_ ports.NumberAppender = (*FileAppender)(nil)
)

// LogNotifier 把通知写到日志（宿主程序可以在此之外再订阅事件做系统通知）
type LogNotifier struct {
	log *logrus.Entry
}

// NewLogNotifier 创建日志通知
func NewLogNotifier(account string) *LogNotifier {
	return &LogNotifier{log: logrus.WithFields(logrus.Fields{"component": "notify", "account": account})}
}

func (n *LogNotifier) Notify(title, body string) {
	n.log.Infof("🔔 %s: %s", title, body)
}

// Multi 依次调用多个通知
type Multi []ports.Notifier

func (m Multi) Notify(title, body string) {
	for _, n := range m {
		if n != nil {
			n.Notify(title, body)
		}
	}
}

// FileAppender 逐行追加编号；同一进程内按路径串行
type FileAppender struct {
	mu sync.Mutex
}

func NewFileAppender() *FileAppender {
	return &FileAppender{}
}

// AppendNumber 追加一行；path 为空时什么都不做
func (a *FileAppender) AppendNumber(path, value string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("empty value")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开 pending 文件失败: %w", err)
	}
	defer f.Close()
	_, err = f.WriteString(value + "\n")
	return err
}
