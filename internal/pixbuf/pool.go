package pixbuf

// Roles is a snapshot of the three role indices.
type Roles struct {
	Write int
	Read  int
	Use   int
}

// Valid reports whether the indices are a permutation of {0, 1, 2}.
func (r Roles) Valid() bool {
	var seen [3]bool
	for _, i := range [3]int{r.Write, r.Read, r.Use} {
		if i < 0 || i > 2 || seen[i] {
			return false
		}
		seen[i] = true
	}
	return true
}

// Pool is a fixed set of three buffers addressed by role.
//
// Initial roles are write=0, read=1, use=2.
type Pool struct {
	bufs       [3]*Buffer
	wb, rb, ub int
}

// NewPool allocates three width x height x channels buffers.
func NewPool(width, height, channels int) (*Pool, error) {
	p := &Pool{wb: 0, rb: 1, ub: 2}
	for i := range p.bufs {
		b, err := NewBuffer(width, height, channels)
		if err != nil {
			return nil, err
		}
		p.bufs[i] = b
	}
	return p, nil
}

// Release drops the pixel memory. Safe to call more than once and on a
// zero Pool.
func (p *Pool) Release() {
	for i := range p.bufs {
		p.bufs[i] = nil
	}
}

// Released reports whether Release has been called (or nothing was allocated).
func (p *Pool) Released() bool {
	return p.bufs[0] == nil
}

func (p *Pool) Write() *Buffer { return p.bufs[p.wb] }
func (p *Pool) Read() *Buffer  { return p.bufs[p.rb] }
func (p *Pool) Use() *Buffer   { return p.bufs[p.ub] }

// SwapWriteRead publishes the freshly written buffer as the ready frame.
func (p *Pool) SwapWriteRead() {
	p.wb, p.rb = p.rb, p.wb
}

// SwapUseRead hands the ready frame to the consumer.
func (p *Pool) SwapUseRead() {
	p.ub, p.rb = p.rb, p.ub
}

// Roles returns the current role indices.
func (p *Pool) Roles() Roles {
	return Roles{Write: p.wb, Read: p.rb, Use: p.ub}
}
