package orca

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/me/qcpipe/pkg/model"
)

// HartreeToKcal converts atomic energy units to kcal/mol.
const HartreeToKcal = 627.509474

const (
	plotWidth  = 640
	plotHeight = 400
	plotMargin = 60
)

var plotFuncs = template.FuncMap{
	"f1": func(v float64) string { return fmt.Sprintf("%.1f", v) },
	"f6": func(v float64) string { return fmt.Sprintf("%.6f", v) },
}

var plotTemplate = template.Must(template.New("energy").Funcs(plotFuncs).Parse(`<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="{{.Width}}" height="{{.Height}}" viewBox="0 0 {{.Width}} {{.Height}}" font-family="sans-serif" font-size="12">
  <rect width="100%" height="100%" fill="white"/>
  <text x="{{.CenterX}}" y="24" text-anchor="middle" font-size="15">{{.Title}}</text>
  <line x1="{{.Left}}" y1="{{.Bottom}}" x2="{{.Right}}" y2="{{.Bottom}}" stroke="black"/>
  <line x1="{{.Left}}" y1="{{.Top}}" x2="{{.Left}}" y2="{{.Bottom}}" stroke="black"/>
  <text x="{{.CenterX}}" y="{{.XLabelY}}" text-anchor="middle">Optimization cycle</text>
  <text x="16" y="{{.CenterY}}" text-anchor="middle" transform="rotate(-90 16 {{.CenterY}})">Relative energy (kcal/mol)</text>
  <text x="{{.Left}}" y="{{.TickY}}" text-anchor="middle">1</text>
  <text x="{{.Right}}" y="{{.TickY}}" text-anchor="middle">{{len .Points}}</text>
  <text x="{{.YTickX}}" y="{{.Bottom}}" text-anchor="end">0.0</text>
  <text x="{{.YTickX}}" y="{{.Top}}" text-anchor="end">{{f1 .MaxRel}}</text>
  <polyline fill="none" stroke="#1f77b4" stroke-width="2" points="{{range .Points}}{{f1 .X}},{{f1 .Y}} {{end}}"/>
{{- range .Points}}
  <circle cx="{{f1 .X}}" cy="{{f1 .Y}}" r="3" fill="#1f77b4"><title>{{f6 .Energy}} Eh</title></circle>
{{- end}}
  <text x="{{.Right}}" y="{{.FinalY}}" text-anchor="end">E(final) = {{f6 .Final}} Eh</text>
</svg>
`))

type plotPoint struct {
	X, Y   float64
	Energy float64
}

type plotData struct {
	Title                    string
	Width, Height            int
	Left, Right, Top, Bottom float64
	CenterX, CenterY         float64
	XLabelY, TickY, YTickX   float64
	FinalY                   float64
	MaxRel                   float64
	Final                    float64
	Points                   []plotPoint
}

// RenderEnergyPlot writes an SVG of the per-cycle energies in the output
// log at outPath into destDir and returns the written path.
func RenderEnergyPlot(outPath, destDir string) (string, error) {
	energies, err := Energies(outPath)
	if err != nil {
		return "", fmt.Errorf("read energies: %w", err)
	}
	if len(energies) == 0 {
		return "", fmt.Errorf("%s: no energies found", filepath.Base(outPath))
	}

	data := buildPlot(model.StemOf(outPath), energies)
	var b strings.Builder
	if err := plotTemplate.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render plot: %w", err)
	}

	dest := filepath.Join(destDir, model.StemOf(outPath)+"_energy.svg")
	if err := os.WriteFile(dest, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write plot: %w", err)
	}
	return dest, nil
}

func buildPlot(title string, energies []float64) plotData {
	d := plotData{
		Title:  title,
		Width:  plotWidth,
		Height: plotHeight,
		Left:   plotMargin,
		Right:  plotWidth - plotMargin/2,
		Top:    plotMargin/2 + 10,
		Bottom: plotHeight - plotMargin,
		Final:  energies[len(energies)-1],
	}
	d.CenterX = (d.Left + d.Right) / 2
	d.CenterY = (d.Top + d.Bottom) / 2
	d.XLabelY = d.Bottom + 40
	d.TickY = d.Bottom + 18
	d.YTickX = d.Left - 6
	d.FinalY = d.Top + 14

	lowest := energies[0]
	for _, e := range energies {
		lowest = min(lowest, e)
	}
	for _, e := range energies {
		d.MaxRel = max(d.MaxRel, (e-lowest)*HartreeToKcal)
	}
	yRange := d.MaxRel
	if yRange == 0 {
		yRange = 1
	}

	n := len(energies)
	for i, e := range energies {
		x := d.Left
		if n > 1 {
			x += float64(i) / float64(n-1) * (d.Right - d.Left)
		}
		rel := (e - lowest) * HartreeToKcal
		y := d.Bottom - rel/yRange*(d.Bottom-d.Top)
		d.Points = append(d.Points, plotPoint{X: x, Y: y, Energy: e})
	}
	return d
}
