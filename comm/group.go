package comm

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrAborted is returned by the ranks of a Group that were blocked in a
// collective when another rank failed.
var ErrAborted = errors.New("comm: collective aborted by a failing rank")

type request struct {
	rank    int
	kind    string
	value   interface{}
	combine func(values []interface{}) interface{}
}

// Group runs n ranks as goroutines in one process. Collectives are served
// by a hub goroutine that combines contributions in rank order, so every
// reduction is deterministic and identical on every rank.
type Group struct {
	size    int
	members []*member

	requests chan request
	abort    chan struct{}
	once     *sync.Once
}

type member struct {
	g     *Group
	rank  int
	reply chan interface{}
}

// NewGroup returns a Group of n ranks. Its communicators only work inside
// Run.
func NewGroup(n int) *Group {
	if n <= 0 {
		panic(fmt.Sprintf("comm: group size must be positive, got %d", n))
	}
	g := &Group{size: n, members: make([]*member, n)}
	for r := range g.members {
		g.members[r] = &member{g: g, rank: r, reply: make(chan interface{}, 1)}
	}
	return g
}

// Size returns the number of ranks.
func (g *Group) Size() int { return g.size }

// Run calls f once per rank, each on its own goroutine, and returns the
// error of the lowest failing rank that was not aborted. If a rank fails,
// ranks blocked in collectives return ErrAborted.
func (g *Group) Run(f func(c Communicator) error) error {
	g.requests = make(chan request)
	g.abort = make(chan struct{})
	g.once = &sync.Once{}
	for _, m := range g.members {
		select {
		case <-m.reply:
		default:
		}
	}

	done := make(chan struct{})
	hubDone := make(chan struct{})
	go func() {
		g.hub(done)
		close(hubDone)
	}()

	errs := make([]error, g.size)
	eg := errgroup.Group{}
	for r := 0; r < g.size; r++ {
		m := g.members[r]
		eg.Go(func() error {
			err := m.run(f)
			if err != nil {
				g.once.Do(func() { close(g.abort) })
			}
			errs[m.rank] = err
			return err
		})
	}
	err := eg.Wait()

	close(done)
	<-hubDone

	// Aborted ranks only echo the failure of another rank.
	for _, e := range errs {
		if e != nil && !errors.Is(e, ErrAborted) {
			return e
		}
	}
	return err
}

func (m *member) run(f func(c Communicator) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if r == ErrAborted {
				err = ErrAborted
				return
			}
			panic(r)
		}
	}()
	return f(m)
}

// hub collects one request from every rank, combines them and replies.
func (g *Group) hub(done <-chan struct{}) {
	pending := make([]interface{}, g.size)
	count, kind := 0, ""
	var combine func([]interface{}) interface{}

	for {
		select {
		case <-done:
			return
		case req := <-g.requests:
			if count == 0 {
				kind, combine = req.kind, req.combine
			} else if req.kind != kind {
				panic(fmt.Sprintf(
					"comm: rank %d called %s while other ranks called %s",
					req.rank, req.kind, kind,
				))
			}
			pending[req.rank] = req.value
			count++

			if count == g.size {
				res := combine(pending)
				for _, m := range g.members {
					select {
					case m.reply <- res:
					case <-done:
						return
					}
				}
				count = 0
				pending = make([]interface{}, g.size)
			}
		}
	}
}

func (m *member) collective(
	kind string, v interface{}, combine func([]interface{}) interface{},
) interface{} {
	select {
	case m.g.requests <- request{m.rank, kind, v, combine}:
	case <-m.g.abort:
		panic(ErrAborted)
	}
	select {
	case res := <-m.reply:
		return res
	case <-m.g.abort:
		panic(ErrAborted)
	}
}

func (m *member) Rank() int { return m.rank }
func (m *member) Size() int { return m.g.size }

func (m *member) AllReduceSum(buf []float64) {
	res := m.collective("AllReduceSum", append([]float64(nil), buf...),
		func(values []interface{}) interface{} {
			sum := make([]float64, len(values[0].([]float64)))
			for _, v := range values {
				for i, x := range v.([]float64) {
					sum[i] += x
				}
			}
			return sum
		})
	copy(buf, res.([]float64))
}

func (m *member) AllReduceSumInt(buf []int) {
	res := m.collective("AllReduceSumInt", append([]int(nil), buf...),
		func(values []interface{}) interface{} {
			sum := make([]int, len(values[0].([]int)))
			for _, v := range values {
				for i, x := range v.([]int) {
					sum[i] += x
				}
			}
			return sum
		})
	copy(buf, res.([]int))
}

func (m *member) Broadcast(buf []float64, root int) {
	res := m.collective("Broadcast", append([]float64(nil), buf...),
		func(values []interface{}) interface{} { return values[root] })
	copy(buf, res.([]float64))
}

func (m *member) ScanInt(v int) int {
	res := m.collective("ScanInt", v,
		func(values []interface{}) interface{} {
			scan := make([]int, len(values))
			sum := 0
			for r, x := range values {
				sum += x.(int)
				scan[r] = sum
			}
			return scan
		})
	return res.([]int)[m.rank]
}

func (m *member) Alltoall(send [][]float64) [][]float64 {
	if len(send) != m.g.size {
		panic(fmt.Sprintf("comm: Alltoall needs %d buffers, got %d", m.g.size, len(send)))
	}
	cp := make([][]float64, len(send))
	for p := range send {
		cp[p] = append([]float64(nil), send[p]...)
	}
	res := m.collective("Alltoall", cp,
		func(values []interface{}) interface{} { return values })
	all := res.([]interface{})

	recv := make([][]float64, m.g.size)
	for p := range recv {
		recv[p] = append([]float64(nil), all[p].([][]float64)[m.rank]...)
	}
	return recv
}

func (m *member) Barrier() {
	m.collective("Barrier", nil, func([]interface{}) interface{} { return nil })
}
