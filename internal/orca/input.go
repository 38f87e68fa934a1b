// Package orca reads and writes the text formats of the ORCA
// quantum-chemistry program: xyz geometries, input decks and output logs.
package orca

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/me/qcpipe/internal/config"
	"github.com/me/qcpipe/pkg/model"
)

// ParseXYZ parses an xyz file: an atom count, a comment line, then one
// "Symbol X Y Z" line per atom. Lines beyond the declared count are
// ignored; a short file yields the atoms it has.
func ParseXYZ(content string) (model.Geometry, error) {
	sc := bufio.NewScanner(strings.NewReader(content))
	if !sc.Scan() {
		return nil, fmt.Errorf("xyz: empty file")
	}
	count, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
	if err != nil {
		return nil, fmt.Errorf("xyz: invalid atom count %q", strings.TrimSpace(sc.Text()))
	}
	sc.Scan() // comment line

	geom := make(model.Geometry, 0, count)
	for sc.Scan() && len(geom) < count {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		atom, err := parseAtomLine(line)
		if err != nil {
			return nil, fmt.Errorf("xyz line %d: %w", len(geom)+3, err)
		}
		geom = append(geom, atom)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("xyz: %w", err)
	}
	if geom.Empty() {
		return nil, fmt.Errorf("xyz: no atoms")
	}
	return geom, nil
}

func parseAtomLine(line string) (model.Atom, error) {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return model.Atom{}, fmt.Errorf("expected symbol and 3 coordinates, got %q", line)
	}
	var xyz [3]float64
	for i := range xyz {
		v, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return model.Atom{}, fmt.Errorf("coordinate %q: %w", fields[i+1], err)
		}
		xyz[i] = v
	}
	return model.Atom{Symbol: fields[0], X: xyz[0], Y: xyz[1], Z: xyz[2]}, nil
}

// FormatCoordinates renders geom as the body of a "* xyz" block.
func FormatCoordinates(geom model.Geometry) string {
	var b strings.Builder
	for i, a := range geom {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "  %-2s %14.8f %14.8f %14.8f", a.Symbol, a.X, a.Y, a.Z)
	}
	return b.String()
}

// Keywords returns the "!" keyword line for calc. A calc type without its
// own entry falls back to the opt keywords with OPT replaced.
func Keywords(cfg config.OrcaConfig, calc model.CalcType) (string, error) {
	if kw := strings.TrimSpace(cfg.Keywords[string(calc)]); kw != "" {
		return kw, nil
	}
	opt := strings.TrimSpace(cfg.Keywords[string(model.CalcOpt)])
	if opt == "" {
		return "", fmt.Errorf("no keywords configured for %s", calc)
	}
	return strings.Replace(opt, "OPT", strings.ToUpper(string(calc)), 1), nil
}

// GenerateInput renders an input deck for molecule at geom.
func GenerateInput(cfg config.OrcaConfig, molecule string, geom model.Geometry, calc model.CalcType) (string, error) {
	if geom.Empty() {
		return "", fmt.Errorf("generate input for %s: empty geometry", molecule)
	}
	kw, err := Keywords(cfg, calc)
	if err != nil {
		return "", fmt.Errorf("generate input for %s: %w", molecule, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s (%s)\n", molecule, calc)
	fmt.Fprintf(&b, "! %s\n", kw)
	if cfg.NProcs > 1 {
		fmt.Fprintf(&b, "%%pal nprocs %d end\n", cfg.NProcs)
	}
	if cfg.MaxCoreMB > 0 {
		fmt.Fprintf(&b, "%%maxcore %d\n", cfg.MaxCoreMB)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "* xyz %d %d\n", cfg.Charge, cfg.Multiplicity)
	b.WriteString(FormatCoordinates(geom))
	b.WriteString("\n*\n")
	return b.String(), nil
}
