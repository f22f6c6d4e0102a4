package flock

// Kind selects a row of the weight table. Creature flavors are data, not types.
type Kind uint8

const (
	KindZombie Kind = iota
	KindRunner
	KindBrute
)

// String returns the kind's config name.
func (k Kind) String() string {
	switch k {
	case KindZombie:
		return "zombie"
	case KindRunner:
		return "runner"
	case KindBrute:
		return "brute"
	default:
		return "unknown"
	}
}

// ParseKind maps a config name back to a Kind.
func ParseKind(name string) (Kind, bool) {
	for k := KindZombie; k <= KindBrute; k++ {
		if k.String() == name {
			return k, true
		}
	}
	return 0, false
}

// Weights holds the tuning for one creature kind. Every force weight
// multiplies a unit direction; none of them change the structure of the
// computation.
type Weights struct {
	Vision     float32 // neighbor query radius; separation uses half of it
	Avoidance  float32 // per-neighbor collision avoidance
	Cohesion   float32
	Separation float32
	Alignment  float32
	Chase      float32 // target and follow pursuit
	Speed      float32 // world units per second
}

// ZombieWeights is the baseline horde tuning.
var ZombieWeights = Weights{
	Vision:     110,
	Avoidance:  4,
	Cohesion:   5,
	Separation: 3,
	Alignment:  15,
	Chase:      15,
	Speed:      210,
}

// Table maps kinds to weights.
type Table []Weights

// DefaultTable returns the built-in tuning for every kind.
func DefaultTable() Table {
	runner := ZombieWeights
	runner.Vision = 80
	runner.Alignment = 10
	runner.Speed = 260

	brute := ZombieWeights
	brute.Vision = 140
	brute.Avoidance = 6
	brute.Chase = 10
	brute.Speed = 150

	return Table{
		KindZombie: ZombieWeights,
		KindRunner: runner,
		KindBrute:  brute,
	}
}

// For returns the weights for k, falling back to the zombie row for kinds
// the table does not define.
func (t Table) For(k Kind) Weights {
	if int(k) < len(t) {
		return t[k]
	}
	if len(t) > 0 {
		return t[0]
	}
	return ZombieWeights
}
