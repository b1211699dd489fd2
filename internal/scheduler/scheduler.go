package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

const maxSleepCap = 60 * time.Second

// Scheduler is an active object: Add and Remove hand requests to the run
// goroutine, which calls onFire for each due event.
type Scheduler struct {
	addChan    chan Event
	removeChan chan string
	countChan  chan chan int
	ctx        context.Context
	done       chan struct{}
}

// New starts a scheduler that runs until ctx is canceled. onFire runs on
// the scheduler goroutine and should return quickly.
func New(ctx context.Context, onFire func(Event)) *Scheduler {
	s := &Scheduler{
		addChan:    make(chan Event, 64),
		removeChan: make(chan string, 64),
		countChan:  make(chan chan int),
		ctx:        ctx,
		done:       make(chan struct{}),
	}
	go s.run(onFire)
	return s
}

// Add schedules e, replacing a pending event with the same name.
func (s *Scheduler) Add(e Event) {
	select {
	case s.addChan <- e:
	case <-s.ctx.Done():
	}
}

// Remove cancels the pending event called name.
func (s *Scheduler) Remove(name string) {
	select {
	case s.removeChan <- name:
	case <-s.ctx.Done():
	}
}

// Len returns the number of pending events, or 0 once stopped.
func (s *Scheduler) Len() int {
	reply := make(chan int, 1)
	select {
	case s.countChan <- reply:
		return <-reply
	case <-s.done:
		return 0
	}
}

// Done is closed when the run goroutine has exited.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

func (s *Scheduler) run(onFire func(Event)) {
	defer close(s.done)
	h := &eventHeap{}
	heap.Init(h)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	resetTimer := func() <-chan time.Time {
		if timer != nil {
			timer.Stop()
		}
		if h.Len() == 0 {
			return nil
		}
		dur := time.Until((*h)[0].At)
		if dur > maxSleepCap {
			dur = maxSleepCap
		}
		if dur < 0 {
			dur = 0
		}
		timer = time.NewTimer(dur)
		return timer.C
	}

	timerCh := resetTimer()
	for {
		select {
		case <-s.ctx.Done():
			return

		case e := <-s.addChan:
			heapRemove(h, e.Name)
			heapPush(h, e)
			timerCh = resetTimer()

		case name := <-s.removeChan:
			heapRemove(h, name)
			timerCh = resetTimer()

		case reply := <-s.countChan:
			reply <- h.Len()

		case <-timerCh:
			now := time.Now()
			for h.Len() > 0 && !(*h)[0].At.After(now) {
				e := heapPop(h)
				onFire(e)
				if e.Cron == "" {
					continue
				}
				if next, err := NextAfter(e.Cron, time.Now()); err == nil {
					heapPush(h, Event{Name: e.Name, At: next, Cron: e.Cron})
				}
			}
			timerCh = resetTimer()
		}
	}
}

// NextAfter returns the next time expr fires strictly after from.
func NextAfter(expr string, from time.Time) (time.Time, error) {
	return gronx.NextTickAfter(expr, from, false)
}

// Recurring builds the first occurrence of a cron event after now.
func Recurring(name, expr string, now time.Time) (Event, error) {
	if err := ValidateCron(expr); err != nil {
		return Event{}, err
	}
	next, err := NextAfter(expr, now)
	if err != nil {
		return Event{}, fmt.Errorf("cron expression %q: %w", expr, err)
	}
	if !next.Before(now.Add(365 * 24 * time.Hour)) {
		return Event{}, fmt.Errorf("cron expression %q has no occurrence within a year", expr)
	}
	return Event{Name: name, At: next, Cron: expr}, nil
}

// ValidateCron accepts exactly five fields (minute hour day-of-month month
// day-of-week); gronx alone would also take a seconds field.
func ValidateCron(expr string) error {
	if len(strings.Fields(expr)) != 5 || !gronx.IsValid(expr) {
		return fmt.Errorf("invalid cron expression %q, expected 5-field format (minute hour day-of-month month day-of-week)", expr)
	}
	return nil
}
