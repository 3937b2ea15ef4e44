package sim

import (
	"fmt"
	"image/color"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// NewTrajectoryPlot creates a plot of a planar scenario from three data
// sources, each a 2 x k matrix with one point per column:
// truth:     simulated true states
// measured:  observations
// estimated: filter or smoother estimates
// It returns error if either of the supplied matrices is nil, has fewer
// than two rows, or a plotter fails to be created.
func NewTrajectoryPlot(truth, measured, estimated *mat.Dense) (*plot.Plot, error) {
	if truth == nil || measured == nil || estimated == nil {
		return nil, fmt.Errorf("invalid data supplied")
	}

	for _, m := range []*mat.Dense{truth, measured, estimated} {
		if r, _ := m.Dims(); r < 2 {
			return nil, fmt.Errorf("invalid data dimensions")
		}
	}

	p := plot.New()

	p.Title.Text = "Rotation"
	p.X.Label.Text = "X"
	p.Y.Label.Text = "Y"

	legend := plot.NewLegend()
	legend.Top = true
	p.Legend = legend

	truthScatter, err := plotter.NewScatter(makePoints(truth))
	if err != nil {
		return nil, err
	}
	truthScatter.GlyphStyle.Color = color.RGBA{R: 255, B: 128, A: 255}
	truthScatter.Shape = draw.PyramidGlyph{}
	truthScatter.GlyphStyle.Radius = vg.Points(3)

	p.Add(truthScatter)
	p.Legend.Add("truth", truthScatter)

	measScatter, err := plotter.NewScatter(makePoints(measured))
	if err != nil {
		return nil, err
	}
	measScatter.GlyphStyle.Color = color.RGBA{G: 255, A: 128}
	measScatter.GlyphStyle.Radius = vg.Points(3)

	p.Add(measScatter)
	p.Legend.Add("measured", measScatter)

	estScatter, err := plotter.NewScatter(makePoints(estimated))
	if err != nil {
		return nil, fmt.Errorf("failed to create scatter: %v", err)
	}
	estScatter.GlyphStyle.Color = color.RGBA{R: 169, G: 169, B: 169}
	estScatter.Shape = draw.CrossGlyph{}
	estScatter.GlyphStyle.Radius = vg.Points(3)

	p.Add(estScatter)
	p.Legend.Add("estimated", estScatter)

	return p, nil
}

func makePoints(m *mat.Dense) plotter.XYs {
	_, cols := m.Dims()
	pts := make(plotter.XYs, cols)
	for i := 0; i < cols; i++ {
		pts[i].X = m.At(0, i)
		pts[i].Y = m.At(1, i)
	}

	return pts
}
