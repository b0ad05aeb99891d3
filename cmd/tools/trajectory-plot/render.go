package main

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/meridian-robotics/areatrack/internal/journal"
)

// trajectoryPoints projects the pose path onto the horizontal plane.
func trajectoryPoints(poses []journal.PoseRow) plotter.XYs {
	pts := make(plotter.XYs, len(poses))
	for i, p := range poses {
		pts[i] = plotter.XY{X: p.Tx, Y: p.Ty}
	}
	return pts
}

// relocalizedPoints picks, for each relocalization mark, the first pose at
// or after the mark's module timestamp.
func relocalizedPoints(poses []journal.PoseRow, marks []journal.RelocalizationRow) plotter.XYs {
	var pts plotter.XYs
	for _, m := range marks {
		for _, p := range poses {
			if p.ModuleTS >= m.ModuleTS {
				pts = append(pts, plotter.XY{X: p.Tx, Y: p.Ty})
				break
			}
		}
	}
	return pts
}

// squareRanges returns axis bounds covering all points with equal span on
// both axes, so a metre measures the same distance horizontally and
// vertically.
func squareRanges(pts plotter.XYs) (xmin, xmax, ymin, ymax float64) {
	xmin, xmax = pts[0].X, pts[0].X
	ymin, ymax = pts[0].Y, pts[0].Y
	for _, p := range pts {
		if p.X < xmin {
			xmin = p.X
		}
		if p.X > xmax {
			xmax = p.X
		}
		if p.Y < ymin {
			ymin = p.Y
		}
		if p.Y > ymax {
			ymax = p.Y
		}
	}

	span := xmax - xmin
	if s := ymax - ymin; s > span {
		span = s
	}
	if span == 0 {
		span = 1
	}

	half := span/2 + span*0.05
	cx := (xmin + xmax) / 2
	cy := (ymin + ymax) / 2
	return cx - half, cx + half, cy - half, cy + half
}

func renderTrajectory(path, pair string, poses []journal.PoseRow, marks []journal.RelocalizationRow) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Device trajectory (%s)", pair)
	p.X.Label.Text = "x (m)"
	p.Y.Label.Text = "y (m)"

	pts := trajectoryPoints(poses)

	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add("path", line)

	start, err := plotter.NewScatter(plotter.XYs{pts[0]})
	if err != nil {
		return err
	}
	start.Color = color.RGBA{G: 160, A: 255}
	start.Radius = vg.Points(4)
	p.Add(start)
	p.Legend.Add("start", start)

	end, err := plotter.NewScatter(plotter.XYs{pts[len(pts)-1]})
	if err != nil {
		return err
	}
	end.Color = color.RGBA{R: 200, A: 255}
	end.Radius = vg.Points(4)
	p.Add(end)
	p.Legend.Add("end", end)

	if reloc := relocalizedPoints(poses, marks); len(reloc) > 0 {
		sc, err := plotter.NewScatter(reloc)
		if err != nil {
			return err
		}
		sc.Color = color.RGBA{R: 255, G: 165, A: 255}
		sc.Radius = vg.Points(3)
		p.Add(sc)
		p.Legend.Add("relocalized", sc)
	}

	p.X.Min, p.X.Max, p.Y.Min, p.Y.Max = squareRanges(pts)
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	return p.Save(8*vg.Inch, 8*vg.Inch, path)
}
