package memstore

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/vasiliy-maslov/marketplace/internal/catalog"
	"github.com/vasiliy-maslov/marketplace/internal/user"
)

// Seed is the YAML document used to populate a memory store for local runs.
type Seed struct {
	Users    []user.Profile    `yaml:"users"`
	Products []catalog.Product `yaml:"products"`
}

func LoadSeed(r io.Reader) (*Seed, error) {
	var seed Seed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		if err == io.EOF {
			return &seed, nil
		}
		return nil, fmt.Errorf("memstore: failed to decode seed: %w", err)
	}
	return &seed, nil
}

func LoadSeedFile(path string) (*Seed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("memstore: failed to open seed file %q: %w", path, err)
	}
	defer f.Close()
	return LoadSeed(f)
}

// Apply inserts the seed's users and products, replacing entries with the
// same id.
func (s *Store) Apply(seed *Seed) {
	for _, u := range seed.Users {
		s.AddUser(u)
	}
	for _, p := range seed.Products {
		s.AddProduct(p)
	}
	log.Info().Int("users", len(seed.Users)).Int("products", len(seed.Products)).Msg("memstore: seed applied")
}
