package orca

import (
	"github.com/me/qcpipe/internal/config"
	"github.com/me/qcpipe/pkg/model"
)

// Toolkit binds the package functions to one configuration so callers can
// depend on an interface.
type Toolkit struct {
	Config config.OrcaConfig
}

// ExtractFinalGeometry calls the package function of the same name.
func (Toolkit) ExtractFinalGeometry(outPath string) (model.Geometry, error) {
	return ExtractFinalGeometry(outPath)
}

// GenerateInput renders an input deck with the bound configuration.
func (t Toolkit) GenerateInput(molecule string, geom model.Geometry, calc model.CalcType) (string, error) {
	return GenerateInput(t.Config, molecule, geom, calc)
}

// RenderEnergyPlot calls the package function of the same name.
func (Toolkit) RenderEnergyPlot(outPath, destDir string) (string, error) {
	return RenderEnergyPlot(outPath, destDir)
}
