// Package progress draws terminal progress bars for conversion, training and testing.
package progress

import (
	"fmt"
	"io"

	"github.com/gosuri/uiprogress"
)

// Bars renders one bar at a time to out. The zero value is not usable; call New.
type Bars struct {
	out   io.Writer
	p     *uiprogress.Progress
	bar   *uiprogress.Bar
	total int
	done  int
}

func New(out io.Writer) *Bars {
	return &Bars{out: out}
}

// Begin starts a new bar of total steps, closing any bar still open.
func (b *Bars) Begin(label string, total int) {
	b.End()
	b.total, b.done = total, 0
	b.p = uiprogress.New()
	b.p.SetOut(b.out)
	b.bar = b.p.AddBar(max(total, 1))
	b.bar.AppendCompleted()
	b.bar.PrependElapsed()
	b.bar.PrependFunc(func(*uiprogress.Bar) string {
		return fmt.Sprintf("%-10s", label)
	})
	b.p.Start()
}

// Step advances the open bar by one.
func (b *Bars) Step() {
	if b.bar == nil {
		return
	}
	b.done++
	b.bar.Incr()
}

// End fills and stops the open bar.
func (b *Bars) End() {
	if b.p == nil {
		return
	}
	_ = b.bar.Set(b.bar.Total)
	b.p.Stop()
	b.p, b.bar = nil, nil
}

// BatchSaved steps the bar once per written batch.
func (b *Bars) BatchSaved(index, records int) { b.Step() }

// Done returns the steps taken on the current or last bar.
func (b *Bars) Done() int { return b.done }
