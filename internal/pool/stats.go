package pool

// counters accumulate lifetime totals for a pool.
type counters struct {
	created        uint64
	destroyed      uint64
	acquired       uint64
	released       uint64
	doubleReleases uint64
	createFailures uint64
	adopted        uint64
}

// Stats is a point-in-time view of a pool.
type Stats struct {
	Name      string `json:"name"`
	MaxSize   int    `json:"max_size"`
	Idle      int    `json:"idle"`
	Active    int    `json:"active"`
	All       int    `json:"all"`
	Closed    bool   `json:"closed"`
	Created   uint64 `json:"created"`
	Destroyed uint64 `json:"destroyed"`
	Acquired  uint64 `json:"acquired"`
	Released  uint64 `json:"released"`

	// DoubleReleases counts releases rejected by the collection check.
	DoubleReleases uint64 `json:"double_releases"`
	CreateFailures uint64 `json:"create_failures"`
	// Adopted counts released items the pool never handed out.
	Adopted uint64 `json:"adopted"`
}

// Stats returns the pool's current counts and lifetime totals.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Name:           p.name,
		MaxSize:        p.maxSize,
		Idle:           p.CountInactive(),
		Active:         p.CountActive(),
		All:            p.CountAll(),
		Closed:         p.closed,
		Created:        p.counters.created,
		Destroyed:      p.counters.destroyed,
		Acquired:       p.counters.acquired,
		Released:       p.counters.released,
		DoubleReleases: p.counters.doubleReleases,
		CreateFailures: p.counters.createFailures,
		Adopted:        p.counters.adopted,
	}
}
