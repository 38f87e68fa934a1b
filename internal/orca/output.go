package orca

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/me/qcpipe/internal/executor"
	"github.com/me/qcpipe/pkg/model"
)

// NormalTermination is printed as the last line of every successful run.
const NormalTermination = "ORCA TERMINATED NORMALLY"

// ErrNoGeometry is returned when an output log holds no coordinate block.
var ErrNoGeometry = errors.New("no coordinate block found")

var (
	// Printed after every optimization cycle and for single points.
	cartesianBlock = regexp.MustCompile(`(?s)CARTESIAN COORDINATES \(ANGSTROEM\)\s*\n-+\n(.*?)\n-{10,}`)
	// Printed when an optimization stops without converging.
	finalBlock = regexp.MustCompile(`(?s)FINAL COORDINATES \(CARTESIAN\)\n-+\n[^\n]*\n-+\n(.*?)\n-{10,}`)

	energyLine = regexp.MustCompile(`FINAL SINGLE POINT ENERGY\s+(-?\d+\.\d+)`)
)

// ExtractFinalGeometry returns the last geometry printed in the output log
// at path.
func ExtractFinalGeometry(path string) (model.Geometry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	content := string(data)

	for _, re := range []*regexp.Regexp{cartesianBlock, finalBlock} {
		matches := re.FindAllStringSubmatch(content, -1)
		if len(matches) == 0 {
			continue
		}
		geom := parseCoordinateBlock(matches[len(matches)-1][1])
		if !geom.Empty() {
			return geom, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", path, ErrNoGeometry)
}

func parseCoordinateBlock(block string) model.Geometry {
	var geom model.Geometry
	for _, line := range strings.Split(strings.TrimSpace(block), "\n") {
		atom, err := parseAtomLine(strings.TrimSpace(line))
		if err != nil {
			continue
		}
		geom = append(geom, atom)
	}
	return geom
}

// Energies returns every "FINAL SINGLE POINT ENERGY" value in the log, in
// the order printed (one per optimization cycle).
func Energies(path string) ([]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []float64
	for _, m := range energyLine.FindAllStringSubmatch(string(data), -1) {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// failureRule maps a log signature to an error classification. Rules are
// checked in order against the lower-cased log.
type failureRule struct {
	needle    string
	errorType model.ErrorType
	message   string
}

var failureRules = []failureRule{
	{"not enough memory", model.ErrorFatalResource, "not enough memory"},
	{"std::bad_alloc", model.ErrorFatalResource, "memory allocation failed"},
	{"cannot allocate memory", model.ErrorFatalResource, "memory allocation failed"},
	{"no space left on device", model.ErrorFatalResource, "scratch disk full"},
	{"input error", model.ErrorFatalInput, "input error"},
	{"unrecognized or duplicated keyword", model.ErrorFatalInput, "unrecognized keyword"},
	{"unknown identifier", model.ErrorFatalInput, "unknown identifier in input"},
	{"error : multiplicity", model.ErrorFatalInput, "impossible charge/multiplicity combination"},
	{"scf not converged", model.ErrorRecoverable, "SCF did not converge"},
	{"did not converge", model.ErrorRecoverable, "optimization did not converge"},
	{"error termination", model.ErrorRecoverable, "error termination"},
}

// Classifier implements executor.Classifier for ORCA output logs.
type Classifier struct{}

// Classify inspects the output log at path.
func (Classifier) Classify(path string) executor.Classification {
	data, err := os.ReadFile(path)
	if err != nil {
		return executor.Classification{
			Message:   fmt.Sprintf("output log unreadable: %v", err),
			ErrorType: model.ErrorFatalExecution,
		}
	}
	content := string(data)
	if strings.Contains(content, NormalTermination) {
		return executor.Classification{Success: true, Message: "terminated normally"}
	}

	lower := strings.ToLower(content)
	for _, r := range failureRules {
		if strings.Contains(lower, r.needle) {
			return executor.Classification{Message: r.message, ErrorType: r.errorType}
		}
	}
	if strings.TrimSpace(content) == "" {
		return executor.Classification{Message: "empty output log", ErrorType: model.ErrorRecoverable}
	}
	return executor.Classification{Message: "terminated abnormally", ErrorType: model.ErrorRecoverable}
}
