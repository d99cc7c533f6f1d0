package sandbox

import (
	"bufio"
	"io"

	"golang.org/x/sync/errgroup"
)

// maxLineBytes splits longer lines into several stream events.
const maxLineBytes = 4 << 10

// pump reads stdout and stderr concurrently, one goroutine each, so neither
// stream can starve the other. Order is kept within a stream only.
type pump struct {
	lines  chan Event
	done   chan struct{}
	quit   chan struct{}
	group  errgroup.Group
	closed bool
}

func newPump(stdout, stderr io.Reader) *pump {
	p := &pump{
		lines: make(chan Event),
		done:  make(chan struct{}),
		quit:  make(chan struct{}),
	}
	p.group.Go(func() error { return p.read(stdout, Stdout) })
	p.group.Go(func() error { return p.read(stderr, Stderr) })
	go func() {
		p.group.Wait()
		close(p.done)
	}()
	return p
}

func (p *pump) read(r io.Reader, stream string) error {
	br := bufio.NewReaderSize(r, maxLineBytes)
	for {
		line, _, err := br.ReadLine()
		if err == nil || len(line) > 0 {
			select {
			case p.lines <- StreamEvent(stream, string(line)):
			case <-p.quit:
				return nil
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// stop makes blocked readers give up. Readers stuck in Read exit once the
// pipes are closed.
func (p *pump) stop() {
	if !p.closed {
		p.closed = true
		close(p.quit)
	}
}

func (p *pump) wait() {
	<-p.done
}
