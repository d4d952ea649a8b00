package zk

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"go.uber.org/zap"

	"github.com/talatops/zk-snark-voting/internal/zk/circuits"
)

// KeySet holds the artifacts of one setup run for one circuit kind.
type KeySet struct {
	Version int
	CS      constraint.ConstraintSystem
	PK      groth16.ProvingKey
	VK      groth16.VerifyingKey
}

type kindKeys struct {
	current  int
	versions map[int]*KeySet
}

// KeyManager owns the per-circuit (proving key, verification key) pairs and
// their versions. Only the current version of a kind validates proofs; once
// Rotate promotes a new version, the old key material stays on disk for audit
// but never resolves again.
//
// Rotation takes the write lock, verification resolution the read lock, so a
// verify call that resolved its key before a rotation finishes against the
// version it started with.
type KeyManager struct {
	mu     sync.RWMutex
	curve  ecc.ID
	kinds  map[circuits.Kind]*kindKeys
	logger *zap.Logger
}

// NewKeyManager creates an empty manager for the given curve name.
func NewKeyManager(curveName string, logger *zap.Logger) (*KeyManager, error) {
	var curve ecc.ID
	switch curveName {
	case "bn254":
		curve = ecc.BN254
	case "bls12-381":
		curve = ecc.BLS12_381
	case "bls12-377":
		curve = ecc.BLS12_377
	case "bw6-761":
		curve = ecc.BW6_761
	default:
		return nil, fmt.Errorf("unsupported curve: %s", curveName)
	}

	return &KeyManager{
		curve:  curve,
		kinds:  make(map[circuits.Kind]*kindKeys),
		logger: logger,
	}, nil
}

// Curve returns the curve all managed keys are defined over.
func (m *KeyManager) Curve() ecc.ID {
	return m.curve
}

// Setup compiles the circuit for kind and runs a fresh Groth16 setup,
// installing the result as the next (and current) version.
func (m *KeyManager) Setup(kind circuits.Kind) (int, error) {
	set, err := m.setupKeySet(kind)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	kk := m.kinds[kind]
	if kk == nil {
		kk = &kindKeys{versions: make(map[int]*KeySet)}
		m.kinds[kind] = kk
	}

	set.Version = kk.current + 1
	kk.versions[set.Version] = set
	kk.current = set.Version

	m.logger.Info("Circuit keys installed",
		zap.String("circuit", string(kind)),
		zap.Int("version", set.Version),
		zap.Int("constraints", set.CS.GetNbConstraints()),
	)

	return set.Version, nil
}

// SetupAll runs Setup for every circuit kind.
func (m *KeyManager) SetupAll() error {
	for _, kind := range circuits.Kinds() {
		if _, err := m.Setup(kind); err != nil {
			return fmt.Errorf("setup %s: %w", kind, err)
		}
	}
	return nil
}

func (m *KeyManager) setupKeySet(kind circuits.Kind) (*KeySet, error) {
	circuit, err := circuits.Blank(kind)
	if err != nil {
		return nil, err
	}

	cs, err := frontend.Compile(m.curve.ScalarField(), r1cs.NewBuilder, circuit)
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s circuit: %w", kind, err)
	}

	pk, vk, err := groth16.Setup(cs)
	if err != nil {
		return nil, fmt.Errorf("failed to setup %s keys: %w", kind, err)
	}

	return &KeySet{CS: cs, PK: pk, VK: vk}, nil
}

// Rotate runs a fresh setup for kind and retires the previously current
// version. Proofs claiming the retired version are rejected from the moment
// Rotate returns.
func (m *KeyManager) Rotate(kind circuits.Kind) (int, error) {
	version, err := m.Setup(kind)
	if err != nil {
		return 0, err
	}

	m.logger.Info("Circuit keys rotated",
		zap.String("circuit", string(kind)),
		zap.Int("version", version),
		zap.Int("retired", version-1),
	)
	return version, nil
}

// Resolve returns the currently trusted verification key for kind, along
// with its version.
func (m *KeyManager) Resolve(kind circuits.Kind) (groth16.VerifyingKey, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	kk := m.kinds[kind]
	if kk == nil || kk.current == 0 {
		return nil, 0, fmt.Errorf("%w: %s", ErrUnknownCircuitVersion, kind)
	}
	return kk.versions[kk.current].VK, kk.current, nil
}

// ResolveVersion returns the verification key for kind only if version is the
// currently trusted one. Retired versions fail even though their key material
// may still be loaded.
func (m *KeyManager) ResolveVersion(kind circuits.Kind, version int) (groth16.VerifyingKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	kk := m.kinds[kind]
	if kk == nil || kk.current == 0 || version != kk.current {
		return nil, fmt.Errorf("%w: %s v%d", ErrUnknownCircuitVersion, kind, version)
	}
	return kk.versions[version].VK, nil
}

// ProvingArtifacts returns the constraint system and proving key for the
// current version of kind. Used on the holder side only; proving keys never
// cross into the verifier's trust boundary.
func (m *KeyManager) ProvingArtifacts(kind circuits.Kind) (constraint.ConstraintSystem, groth16.ProvingKey, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	kk := m.kinds[kind]
	if kk == nil || kk.current == 0 {
		return nil, nil, 0, fmt.Errorf("%w: %s", ErrUnknownCircuitVersion, kind)
	}
	set := kk.versions[kk.current]
	return set.CS, set.PK, set.Version, nil
}

// ============================================================================
// Disk Persistence
// ============================================================================

// keyManifest records the current version per kind, so a restart resolves
// the same versions the ceremony produced.
type keyManifest struct {
	Curve    string                `json:"curve"`
	Versions map[circuits.Kind]int `json:"versions"`
}

const manifestName = "keys.json"

// SaveToDir writes the current key sets and a manifest into dir.
func (m *KeyManager) SaveToDir(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create key dir: %w", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	manifest := keyManifest{
		Curve:    m.curve.String(),
		Versions: make(map[circuits.Kind]int),
	}

	for kind, kk := range m.kinds {
		if kk.current == 0 {
			continue
		}
		set := kk.versions[kk.current]

		if err := writeArtifact(filepath.Join(dir, artifactName(kind, set.Version, "r1cs")), set.CS); err != nil {
			return err
		}
		if err := writeArtifact(filepath.Join(dir, artifactName(kind, set.Version, "pk")), rawWriter{set.PK}); err != nil {
			return err
		}
		if err := writeArtifact(filepath.Join(dir, artifactName(kind, set.Version, "vk")), rawWriter{set.VK}); err != nil {
			return err
		}

		manifest.Versions[kind] = set.Version
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal key manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestName), data, 0o600); err != nil {
		return fmt.Errorf("failed to write key manifest: %w", err)
	}

	m.logger.Info("Circuit keys saved", zap.String("dir", dir))
	return nil
}

// LoadFromDir reads the manifest and key sets produced by SaveToDir.
func (m *KeyManager) LoadFromDir(dir string) error {
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return fmt.Errorf("failed to read key manifest: %w", err)
	}

	var manifest keyManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("failed to parse key manifest: %w", err)
	}
	if manifest.Curve != m.curve.String() {
		return fmt.Errorf("key dir curve mismatch: have %s, want %s", manifest.Curve, m.curve)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for kind, version := range manifest.Versions {
		set := &KeySet{
			Version: version,
			CS:      groth16.NewCS(m.curve),
			PK:      groth16.NewProvingKey(m.curve),
			VK:      groth16.NewVerifyingKey(m.curve),
		}

		if err := readArtifact(filepath.Join(dir, artifactName(kind, version, "r1cs")), set.CS); err != nil {
			return err
		}
		if err := readArtifact(filepath.Join(dir, artifactName(kind, version, "pk")), set.PK); err != nil {
			return err
		}
		if err := readArtifact(filepath.Join(dir, artifactName(kind, version, "vk")), set.VK); err != nil {
			return err
		}

		m.kinds[kind] = &kindKeys{
			current:  version,
			versions: map[int]*KeySet{version: set},
		}
	}

	m.logger.Info("Circuit keys loaded",
		zap.String("dir", dir),
		zap.Int("kinds", len(manifest.Versions)),
	)
	return nil
}

func artifactName(kind circuits.Kind, version int, ext string) string {
	return fmt.Sprintf("%s.v%d.%s", kind, version, ext)
}

type writerTo interface {
	WriteTo(w io.Writer) (int64, error)
}

func writeArtifact(path string, src writerTo) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if _, err := src.WriteTo(f); err != nil {
		return fmt.Errorf("failed to serialize %s: %w", path, err)
	}
	return nil
}

type readerFrom interface {
	ReadFrom(r io.Reader) (int64, error)
}

func readArtifact(path string, dst readerFrom) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := dst.ReadFrom(f); err != nil {
		return fmt.Errorf("failed to deserialize %s: %w", path, err)
	}
	return nil
}

// rawWriter serializes gnark key material in its uncompressed form. Raw
// encoding trades file size for much faster startup deserialization.
type rawWriter struct {
	raw interface {
		WriteRawTo(w io.Writer) (int64, error)
	}
}

func (r rawWriter) WriteTo(w io.Writer) (int64, error) {
	return r.raw.WriteRawTo(w)
}
