package stats

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"beyondgd/internal/model"
)

// FitnessSeries are the plotted curves, one point per report in run order.
type FitnessSeries struct {
	AvgTrain  plotter.XYs
	BestTrain plotter.XYs
	BestDev   plotter.XYs
}

func BuildFitnessSeries(reports []model.EpochReport) FitnessSeries {
	s := FitnessSeries{
		AvgTrain:  make(plotter.XYs, len(reports)),
		BestTrain: make(plotter.XYs, len(reports)),
		BestDev:   make(plotter.XYs, len(reports)),
	}
	for i, r := range reports {
		x := float64(i + 1)
		s.AvgTrain[i].X, s.AvgTrain[i].Y = x, r.AvgTrain
		s.BestTrain[i].X, s.BestTrain[i].Y = x, r.BestTrain
		s.BestDev[i].X, s.BestDev[i].Y = x, r.BestDev
	}
	return s
}

// PlotFitness saves the train and dev curves of reports as a PNG.
func PlotFitness(reports []model.EpochReport, title, outPath string) error {
	if len(reports) == 0 {
		return fmt.Errorf("no reports to plot")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Report"
	p.Y.Label.Text = "Accuracy"

	series := BuildFitnessSeries(reports)
	lines := []struct {
		name string
		xys  plotter.XYs
	}{
		{"avg(train)", series.AvgTrain},
		{"best(train)", series.BestTrain},
		{"best(dev)", series.BestDev},
	}
	for i, l := range lines {
		line, err := plotter.NewLine(l.xys)
		if err != nil {
			return err
		}
		line.Color = plotutil.Color(i)
		p.Add(line)
		p.Legend.Add(l.name, line)
	}
	p.Legend.Top = true
	p.Legend.Left = true

	return p.Save(6*vg.Inch, 4*vg.Inch, outPath)
}
