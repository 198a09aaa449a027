package monomer

import (
	"fmt"
	"io"

	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

// WaterGamma places the water M-site between O and the two hydrogens.
const WaterGamma = 0.426706882

// Registry maps monomer type ids to their topology.
type Registry struct {
	types map[string]*Type
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{types: map[string]*Type{}}
}

// Default returns a new Registry containing the built-in types: a four-site
// water model and single-site ions.
func Default() *Registry {
	r := NewRegistry()

	h2o := &Type{
		ID: "h2o", Sites: 4,
		Exc12: NewPairs([2]int{0, 1}, [2]int{0, 2}, [2]int{0, 3},
			[2]int{1, 3}, [2]int{2, 3}),
		Exc13: NewPairs([2]int{1, 2}),
		ADD12: 0.626, ADD13: 0.626, ADD14: InterADD, ADDDefault: InterADD,
		Virtual: []VirtualSite{{
			Site:    3,
			Parents: []int{0, 1, 2},
			Weights: []float64{1 - WaterGamma, WaterGamma / 2, WaterGamma / 2},
		}},
	}
	if err := r.Add(h2o); err != nil {
		panic(err.Error())
	}

	for _, id := range []string{"li", "na", "k", "rb", "cs", "f", "cl", "br", "i"} {
		ion := &Type{
			ID: id, Sites: 1,
			ADD12: InterADD, ADD13: InterADD, ADD14: InterADD, ADDDefault: InterADD,
		}
		if err := r.Add(ion); err != nil {
			panic(err.Error())
		}
	}

	return r
}

// Add validates t and registers it, replacing any type with the same id.
func (r *Registry) Add(t *Type) error {
	if err := t.validate(); err != nil {
		return fmt.Errorf("monomer: %w", err)
	}
	r.types[t.ID] = t
	return nil
}

// Lookup returns the type with the given id.
func (r *Registry) Lookup(id string) (*Type, error) {
	t, ok := r.types[id]
	if !ok {
		return nil, fmt.Errorf("monomer: unknown monomer type '%s'", id)
	}
	return t, nil
}

// Excluded returns the 1-2, 1-3 and 1-4 exclusion sets of a type.
func (r *Registry) Excluded(id string) (exc12, exc13, exc14 Pairs, err error) {
	t, err := r.Lookup(id)
	if err != nil {
		return nil, nil, nil, err
	}
	return t.Exc12, t.Exc13, t.Exc14, nil
}

// IDs returns the sorted ids of every registered type.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.types))
	for id := range r.types {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

type registryFile struct {
	Types []*Type `yaml:"types"`
}

// Load reads monomer types from a YAML document and adds them to r. Nothing
// is added if any type is invalid.
func (r *Registry) Load(rd io.Reader) error {
	file := registryFile{}
	if err := yaml.NewDecoder(rd).Decode(&file); err != nil {
		return fmt.Errorf("monomer: decoding registry: %w", err)
	}

	for i, t := range file.Types {
		if err := t.validate(); err != nil {
			return fmt.Errorf("monomer: type %d in registry: %w", i, err)
		}
	}
	for _, t := range file.Types {
		r.types[t.ID] = t
	}
	return nil
}

// LoadRegistry returns the default registry extended with the types read
// from rd.
func LoadRegistry(rd io.Reader) (*Registry, error) {
	r := Default()
	if err := r.Load(rd); err != nil {
		return nil, err
	}
	return r, nil
}

// ExampleRegistryFile is a registry document describing a rigid
// three-site CO2 model.
const ExampleRegistryFile = `types:
  - id: co2
    sites: 3
    exc12: [[0, 1], [0, 2]]
    exc13: [[1, 2]]
    add12: 0.3
    add13: 0.3
    add14: 0.055
    add: 0.055
`
