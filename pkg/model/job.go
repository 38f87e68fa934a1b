package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Record is the persisted state of one submitted job. The JSON layout is
// read by independent services and must stay stable.
type Record struct {
	Molecule   string    `json:"molecule"`
	CalcType   CalcType  `json:"calc_type"`
	Status     Status    `json:"status"`
	RetryCount int       `json:"retry_count"`
	StartedAt  time.Time `json:"started_at"`
}

// Entry pairs a job key with its record.
type Entry struct {
	Key    string `json:"key"`
	Record Record `json:"record"`
}

// JobSpec is a dispatch-ready unit of work. InputPath is also the job key.
type JobSpec struct {
	InputPath string
	Molecule  string
	CalcType  CalcType
}

// String returns a short human-readable label.
func (j JobSpec) String() string {
	return fmt.Sprintf("%s (%s)", j.Molecule, j.CalcType)
}

// Stem returns the input file name without its extension.
func (j JobSpec) Stem() string {
	return StemOf(j.InputPath)
}

// StemOf returns the base name of path without its extension.
func StemOf(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// InputName returns the conventional input file name for a molecule and calc type.
func InputName(molecule string, calc CalcType) string {
	return fmt.Sprintf("%s_%s.inp", molecule, calc)
}

// ParkedPath returns where the input of a temporarily failed job waits for
// the next start. Parked inputs are grouped by a digest of the job key, so
// equal file names from different directories never collide.
func ParkedPath(retryDir, key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(retryDir, hex.EncodeToString(sum[:6]), filepath.Base(key))
}

// SpecFromInputPath derives molecule and calc type from a "<mol>_<calc>.inp"
// file name. Names without a known calc suffix are treated as opt jobs.
func SpecFromInputPath(path string) JobSpec {
	stem := StemOf(path)
	spec := JobSpec{InputPath: path, Molecule: stem, CalcType: CalcOpt}
	if i := strings.LastIndex(stem, "_"); i > 0 {
		if calc, ok := ParseCalcType(stem[i+1:]); ok {
			spec.Molecule = stem[:i]
			spec.CalcType = calc
		}
	}
	return spec
}

// Atom is one element with cartesian coordinates in angstrom.
type Atom struct {
	Symbol string
	X      float64
	Y      float64
	Z      float64
}

// Geometry is an ordered list of atoms.
type Geometry []Atom

// Empty reports whether the geometry has no atoms.
func (g Geometry) Empty() bool {
	return len(g) == 0
}
