package coordinator

import (
	"errors"
	"hash/fnv"
)

// Program is a provable program the coordinator can hand out.
type Program struct {
	// Input builds the public input for the n-th task of this program.
	Input func(n uint64) []byte
	ID    string
}

// Catalog is the ordered set of programs tasks are drawn from.
type Catalog struct {
	programs []Program
}

// DefaultCatalog serves the Fibonacci programs with small inputs.
func DefaultCatalog() *Catalog {
	fibInput := func(n uint64) []byte { return []byte{byte(5 + n%20)} }
	c, _ := NewCatalog(
		Program{ID: "fib", Input: fibInput},
		Program{ID: "fast-fib", Input: fibInput},
	)
	return c
}

// NewCatalog returns a catalog of programs. At least one is required.
func NewCatalog(programs ...Program) (*Catalog, error) {
	if len(programs) == 0 {
		return nil, errors.New("catalog needs at least one program")
	}
	for _, p := range programs {
		if p.ID == "" || p.Input == nil {
			return nil, errors.New("program needs an id and an input generator")
		}
	}
	return &Catalog{programs: programs}, nil
}

// ForNode picks the program a node works on. The choice is a stable hash of
// the node id so a node keeps proving the same program across restarts,
// while different nodes spread over the catalog.
func (c *Catalog) ForNode(nodeID string) Program {
	h := fnv.New32a()
	h.Write([]byte(nodeID))
	return c.programs[int(h.Sum32()%uint32(len(c.programs)))]
}

// Len is the number of programs.
func (c *Catalog) Len() int { return len(c.programs) }
