/*package comm is the rank-level communication layer: blocking collectives
behind the Communicator interface, a one-rank implementation, an in-process
multi-rank Group, and the tag-keyed halo exchange that sums the partial values
of atoms duplicated across rank boundaries.
*/
package comm

// Communicator provides blocking collectives over a fixed set of ranks.
// Every rank must call the same collectives in the same order.
type Communicator interface {
	Rank() int
	Size() int
	// AllReduceSum replaces buf with its elementwise sum over all ranks.
	AllReduceSum(buf []float64)
	AllReduceSumInt(buf []int)
	// Broadcast replaces buf with root's buf.
	Broadcast(buf []float64, root int)
	// ScanInt returns the inclusive prefix sum of v over ranks 0..Rank().
	ScanInt(v int) int
	// Alltoall sends send[p] to rank p and returns recv, where recv[p] is
	// what rank p sent to this rank.
	Alltoall(send [][]float64) [][]float64
	Barrier()
}

// Serial is the Communicator of a single process.
type Serial struct{}

func (Serial) Rank() int                         { return 0 }
func (Serial) Size() int                         { return 1 }
func (Serial) AllReduceSum(buf []float64)        {}
func (Serial) AllReduceSumInt(buf []int)         {}
func (Serial) Broadcast(buf []float64, root int) {}
func (Serial) ScanInt(v int) int                 { return v }
func (Serial) Barrier()                          {}

func (Serial) Alltoall(send [][]float64) [][]float64 {
	return [][]float64{append([]float64(nil), send[0]...)}
}
