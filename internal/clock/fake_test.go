package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestFake_AfterFunc(t *testing.T) {
	c := NewFake(epoch)
	fired := 0
	c.AfterFunc(30*time.Second, func() { fired++ })

	c.Advance(29 * time.Second)
	assert.Equal(t, 0, fired)

	c.Advance(time.Second)
	assert.Equal(t, 1, fired)
	assert.Equal(t, epoch.Add(30*time.Second), c.Now())

	c.Advance(time.Minute)
	assert.Equal(t, 1, fired, "one-shot timers fire once")
	assert.Equal(t, 0, c.Pending())
}

func TestFake_Stop(t *testing.T) {
	c := NewFake(epoch)
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	c.Advance(time.Minute)
	assert.False(t, fired)
}

func TestFake_Every(t *testing.T) {
	c := NewFake(epoch)
	ticks := 0
	timer := c.Every(time.Second, func() { ticks++ })

	c.Advance(5 * time.Second)
	assert.Equal(t, 5, ticks)

	timer.Stop()
	c.Advance(5 * time.Second)
	assert.Equal(t, 5, ticks)
}

func TestFake_CallbackSchedulesTimer(t *testing.T) {
	c := NewFake(epoch)
	var order []string

	c.AfterFunc(time.Second, func() {
		order = append(order, "first")
		c.AfterFunc(time.Second, func() { order = append(order, "second") })
	})

	c.Advance(3 * time.Second)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestFake_DeadlineOrder(t *testing.T) {
	c := NewFake(epoch)
	var order []int

	c.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	c.AfterFunc(time.Second, func() { order = append(order, 1) })
	c.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	c.Advance(5 * time.Second)
	assert.Equal(t, []int{1, 2, 3}, order)
}
