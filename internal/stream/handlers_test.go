package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandlerList_EmitWithoutSubscribersIsNoop(t *testing.T) {
	h := NewHandlerList[int]("test")
	h.Emit(1) // 不应 panic
	assert.Equal(t, 0, h.count())
}

func TestHandlerList_SerialOrderAndPanicIsolation(t *testing.T) {
	h := NewHandlerList[int]("test")
	var got []int
	h.Add(func(v int) { got = append(got, v) })
	h.Add(func(int) { panic("boom") })
	h.Add(func(v int) { got = append(got, v*10) })

	h.Emit(1)
	h.Emit(2)
	// panic 的回调不影响后续回调
	assert.Equal(t, []int{1, 10, 2, 20}, got)
}

func TestHandlerList_Remove(t *testing.T) {
	h := NewHandlerList[string]("test")
	calls := 0
	remove := h.Add(func(string) { calls++ })
	h.Emit("a")
	remove()
	remove() // 重复调用安全
	h.Emit("b")
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, h.count())
}
