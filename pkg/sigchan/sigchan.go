package sigchan

// Chan 非阻塞唤醒信号（合并多次 Emit，不传递数据）
type Chan struct {
	c chan struct{}
}

// New 创建信号 channel；bufferSize <= 0 时按 1 处理
func New(bufferSize int) *Chan {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Chan{c: make(chan struct{}, bufferSize)}
}

// Emit 发送信号（缓冲已满则丢弃）
func (c *Chan) Emit() {
	select {
	case c.c <- struct{}{}:
	default:
	}
}

// C 用于 select
func (c *Chan) C() <-chan struct{} {
	return c.c
}

// Drain 丢弃积压的信号，返回丢弃数量
func (c *Chan) Drain() int {
	n := 0
	for {
		select {
		case <-c.c:
			n++
		default:
			return n
		}
	}
}
