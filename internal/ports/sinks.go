package ports

// Notifier 用户通知（fire-and-forget，失败由实现自行吞掉）
type Notifier interface {
	Notify(title, body string)
}

// NumberAppender 追加写入编号（pending trades 文件）；path 为空时为 no-op
type NumberAppender interface {
	AppendNumber(path, value string) error
}

// NotifierFunc 函数适配
type NotifierFunc func(title, body string)

func (f NotifierFunc) Notify(title, body string) { f(title, body) }
