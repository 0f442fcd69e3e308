package cmd

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/yitech/stockview/internal/eventloop"
	"github.com/yitech/stockview/session"
)

// taskMsg carries a posted closure onto the bubbletea event loop, where it
// runs inside Update like any other message.
type taskMsg func()

var _ session.Loop = (*teaLoop)(nil)

// teaLoop makes the bubbletea program the session's event loop. Posts are
// queued in order and handed to the program by the queue's goroutine, so a
// closure running inside Update can post without blocking on the program.
type teaLoop struct {
	queue *eventloop.Loop
	send  func(tea.Msg)
}

func (l *teaLoop) Post(fn func()) {
	l.queue.Post(func() { l.send(taskMsg(fn)) })
}

func (l *teaLoop) PostAfter(d time.Duration, fn func()) (cancel func()) {
	return l.queue.PostAfter(d, func() { l.send(taskMsg(fn)) })
}
