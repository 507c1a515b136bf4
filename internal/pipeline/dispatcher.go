package pipeline

// dispatch deals frames round-robin: the i-th frame goes to worker i mod N.
// The receiving turn lives only here.
func (p *Pipeline) dispatch(in <-chan RawFrame) {
	defer p.wg.Done()
	defer func() {
		for _, inbox := range p.inboxes {
			close(inbox)
		}
	}()

	turn := 0
	for {
		var f RawFrame
		var ok bool
		select {
		case f, ok = <-in:
			if !ok {
				log.Debug("Input closed after %d frames", atomic64(&p.dispatched))
				return
			}
		case <-p.quit:
			return
		}

		select {
		case p.inboxes[turn] <- f:
			incr(&p.dispatched)
		case <-p.quit:
			return
		}

		turn = (turn + 1) % p.n
	}
}
