package pipeline

import (
	"fmt"

	"github.com/pkg/errors"
)

// work converts frames from its own inbox. Conversion runs in parallel with
// the other workers; publishing waits for this worker's turn token.
func (p *Pipeline) work(id int) {
	defer p.wg.Done()
	defer close(p.done[id])

	for {
		var f RawFrame
		var ok bool
		select {
		case f, ok = <-p.inboxes[id]:
			if !ok {
				return
			}
		case <-p.quit:
			return
		}
		p.enter()

		r := result{worker: id}
		img, err := p.safeConvert(f)
		if err != nil {
			// Still take the turn, so the workers behind this one are not
			// left waiting for a frame that will never come.
			log.Warn("worker %d: skipping frame %dx%d (%d bytes): %v", id, f.Width, f.Height, len(f.Pix), err)
			r.skip = true
		} else {
			r.img = img
		}

		select {
		case <-p.tokens[id]:
		case <-p.quit:
			p.leave()
			return
		}

		// The token holder's result is the next one aggregated.
		p.leave()
		select {
		case p.results <- r:
		case <-p.quit:
			return
		}
	}
}

func (p *Pipeline) safeConvert(f RawFrame) (img DisplayImage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrap(ErrMalformedFrame, fmt.Sprint("converter panic: ", r))
		}
	}()
	return p.convert(f)
}
