// Package artifacts loads and stores the compiled withdraw circuit and its Groth16
// keys.
//
// An artifact set is three files sharing a circuit name: <name>.ccs (constraint
// system), <name>.pk (proving key) and <name>.vk (verifying key). A set with only
// the verifying key is valid for verifier-only deployments.
package artifacts

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/pkg/errors"
)

const (
	ExtCCS          = ".ccs"
	ExtProvingKey   = ".pk"
	ExtVerifyingKey = ".vk"
)

var (
	ErrNotFound = errors.New("artifacts: not found")
	ErrCorrupt  = errors.New("artifacts: corrupt artifact")
)

// Artifacts is a loaded set. Any of the three parts may be nil.
type Artifacts struct {
	Name         string
	CCS          constraint.ConstraintSystem
	ProvingKey   groth16.ProvingKey
	VerifyingKey groth16.VerifyingKey
}

// CanProve reports whether the set holds a circuit and a proving key.
func (a *Artifacts) CanProve() bool {
	return a != nil && a.CCS != nil && a.ProvingKey != nil
}

// CanVerify reports whether the set holds a verifying key.
func (a *Artifacts) CanVerify() bool {
	return a != nil && a.VerifyingKey != nil
}

// Provider returns the artifacts for a named circuit. Implementations return an
// error wrapping ErrNotFound when nothing is available under that name.
type Provider interface {
	Load(ctx context.Context, name string) (*Artifacts, error)
}

// Compile builds the R1CS for circuit over the BN254 scalar field.
func Compile(circuit frontend.Circuit) (constraint.ConstraintSystem, error) {
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, circuit)
	if err != nil {
		return nil, errors.Wrap(err, "compile circuit")
	}
	return ccs, nil
}

// Setup compiles circuit and runs a local Groth16 setup.
//
// The toxic waste of a local setup is known to this process, so the keys are only
// fit for development and tests.
func Setup(name string, circuit frontend.Circuit) (*Artifacts, error) {
	ccs, err := Compile(circuit)
	if err != nil {
		return nil, err
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, errors.Wrap(err, "groth16 setup")
	}
	return &Artifacts{Name: name, CCS: ccs, ProvingKey: pk, VerifyingKey: vk}, nil
}

// Save writes every non-nil part of a to dir as <name>.{ccs,pk,vk}.
func Save(dir, name string, a *Artifacts) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create artifact dir")
	}
	parts := []struct {
		ext string
		w   io.WriterTo
	}{
		{ExtCCS, a.CCS},
		{ExtProvingKey, a.ProvingKey},
		{ExtVerifyingKey, a.VerifyingKey},
	}
	for _, p := range parts {
		if p.w == nil {
			continue
		}
		if err := writeFile(filepath.Join(dir, name+p.ext), p.w); err != nil {
			return err
		}
	}
	return nil
}

// SetupOrLoad loads name from dir, or runs Setup and saves the result when the
// directory holds no complete set.
func SetupOrLoad(ctx context.Context, dir, name string, circuit frontend.Circuit) (*Artifacts, error) {
	a, err := (&FileProvider{Dir: dir}).Load(ctx, name)
	if err == nil && a.CanProve() && a.CanVerify() {
		return a, nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if a, err = Setup(name, circuit); err != nil {
		return nil, err
	}
	if err := Save(dir, name, a); err != nil {
		return nil, err
	}
	return a, nil
}

func writeFile(path string, w io.WriterTo) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer f.Close()
	if _, err := w.WriteTo(f); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return f.Sync()
}

// decode reads one part from r into a fresh BN254 object chosen by ext.
func decode(ext string, r io.Reader, a *Artifacts) error {
	var (
		dst io.ReaderFrom
		err error
	)
	switch ext {
	case ExtCCS:
		cs := groth16.NewCS(ecc.BN254)
		dst, a.CCS = cs, cs
	case ExtProvingKey:
		pk := groth16.NewProvingKey(ecc.BN254)
		dst, a.ProvingKey = pk, pk
	case ExtVerifyingKey:
		vk := groth16.NewVerifyingKey(ecc.BN254)
		dst, a.VerifyingKey = vk, vk
	default:
		return errors.Errorf("artifacts: unknown extension %q", ext)
	}
	if _, err = dst.ReadFrom(r); err != nil {
		return errors.Wrapf(ErrCorrupt, "%s%s: %v", a.Name, ext, err)
	}
	return nil
}

// Static serves artifact sets held in memory.
type Static map[string]*Artifacts

func (s Static) Load(_ context.Context, name string) (*Artifacts, error) {
	a, ok := s[name]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "%s", name)
	}
	return a, nil
}
