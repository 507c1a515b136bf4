package pipeline

import "sync/atomic"

// aggregate publishes results in submission order. It owns the sending turn:
// worker (turn mod N) gets the token, and nobody else can publish until its
// result has been taken.
func (p *Pipeline) aggregate() {
	defer p.wg.Done()
	defer close(p.out)

	turn := 0
	for {
		select {
		case p.tokens[turn] <- struct{}{}:
		case <-p.quit:
			return
		}

		select {
		case r := <-p.results:
			if r.worker != turn {
				// Cannot happen: only the token holder sends.
				panic("pipeline: result out of turn")
			}
			if r.skip {
				incr(&p.skipped)
			} else {
				select {
				case p.out <- r.img:
					incr(&p.published)
				case <-p.quit:
					return
				}
			}

		case <-p.done[turn]:
			// The worker holding the next frame has exited, so no later
			// frame exists either.
			log.Debug("Drained: %d published, %d skipped", atomic64(&p.published), atomic64(&p.skipped))
			return

		case <-p.quit:
			return
		}

		turn = (turn + 1) % p.n
	}
}

func incr(v *uint64) {
	atomic.AddUint64(v, 1)
}

func atomic64(v *uint64) uint64 {
	return atomic.LoadUint64(v)
}
