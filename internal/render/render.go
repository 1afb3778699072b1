package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/vector"

	"sleepywoodpecker/serial-scope/internal/processing"
	"sleepywoodpecker/serial-scope/internal/spectrum"
)

const (
	dpi            = 96.0
	fontSize       = 10.0
	tickMarkLength = 5
	pixelsPerLabel = 120.0
	lineWidth      = 1.5

	defaultWidth  = 1200
	defaultHeight = 400

	defaultTopBorder    = 20
	defaultLeftBorder   = 70
	defaultBottomBorder = 50
	defaultRightBorder  = 20
)

var (
	RawColor      = color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}
	FilteredColor = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}
	gridColor     = color.RGBA{R: 0xdd, G: 0xdd, B: 0xdd, A: 0xff}
)

type BorderConfig struct {
	Top    int
	Left   int
	Bottom int
	Right  int
}

// Config sizes the plot area; borders hold the scales and the info bar.
type Config struct {
	Width    int
	Height   int
	FontSize float64
	Borders  BorderConfig
}

// Renderer draws frozen snapshots and spectra as annotated plots.
type Renderer struct {
	config Config
	font   *truetype.Font
}

func NewRenderer(config Config) (*Renderer, error) {
	if config.Width == 0 {
		config.Width = defaultWidth
	}
	if config.Height == 0 {
		config.Height = defaultHeight
	}
	if config.FontSize == 0 {
		config.FontSize = fontSize
	}
	if config.Borders == (BorderConfig{}) {
		config.Borders = BorderConfig{
			Top:    defaultTopBorder,
			Left:   defaultLeftBorder,
			Bottom: defaultBottomBorder,
			Right:  defaultRightBorder,
		}
	}
	if config.Width <= 0 || config.Height <= 0 {
		return nil, fmt.Errorf("render: plot size must be positive, got %dx%d", config.Width, config.Height)
	}

	parsedFont, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	return &Renderer{config: config, font: parsedFont}, nil
}

// plot maps data coordinates onto the plot area of an image.
type plot struct {
	img    *image.RGBA
	area   image.Rectangle
	xRange [2]float64
	yRange [2]float64
}

func (p *plot) x(v float64) float32 {
	ratio := (v - p.xRange[0]) / (p.xRange[1] - p.xRange[0])
	return float32(float64(p.area.Min.X) + ratio*float64(p.area.Dx()))
}

func (p *plot) y(v float64) float32 {
	ratio := (v - p.yRange[0]) / (p.yRange[1] - p.yRange[0])
	return float32(float64(p.area.Max.Y) - ratio*float64(p.area.Dy()))
}

func (r *Renderer) newPlot(xRange, yRange [2]float64) *plot {
	b := r.config.Borders
	img := image.NewRGBA(image.Rect(0, 0, r.config.Width+b.Left+b.Right, r.config.Height+b.Top+b.Bottom))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	if xRange[1] <= xRange[0] {
		xRange[1] = xRange[0] + 1
	}
	if yRange[1] <= yRange[0] {
		yRange[1] = yRange[0] + 1
	}

	return &plot{
		img:    img,
		area:   image.Rect(b.Left, b.Top, b.Left+r.config.Width, b.Top+r.config.Height),
		xRange: xRange,
		yRange: yRange,
	}
}

// Snapshot plots the raw and filtered signal of a frozen snapshot over its frozen bounds.
func (r *Renderer) Snapshot(snap *processing.Snapshot) (*image.RGBA, error) {
	b := snap.Bounds
	p := r.newPlot([2]float64{b.Left, b.Right}, [2]float64{b.Down, b.Up})

	ann, err := r.newAnnotator(p)
	if err != nil {
		return nil, fmt.Errorf("creating annotator: %w", err)
	}
	defer ann.Close()

	if err := ann.scales("s", "V"); err != nil {
		return nil, fmt.Errorf("drawing scales: %w", err)
	}

	times, raw, filtered := snap.Time(), snap.Raw(), snap.Filtered()
	stride := max(1, len(times)/(2*r.config.Width))
	p.polyline(times, raw, stride, RawColor)
	p.polyline(times, filtered, stride, FilteredColor)

	info := fmt.Sprintf("frozen at %s; %s samples; raw (blue), filtered (red)",
		humanize.SIWithDigits(snap.FrozenAt, 3, "s"), humanize.Comma(int64(snap.Count())))
	if err := ann.info(info); err != nil {
		return nil, fmt.Errorf("drawing info bar: %w", err)
	}
	return p.img, nil
}

// Spectrum plots the single-sided amplitude spectrum up to the Nyquist frequency.
func (r *Renderer) Spectrum(result spectrum.Result) (*image.RGBA, error) {
	bins := len(result.Magnitudes)
	top := 0.0
	for _, m := range result.Magnitudes {
		top = max(top, m)
	}

	p := r.newPlot([2]float64{0, float64(max(bins-1, 1)) * result.BinWidth}, [2]float64{0, top * 1.1})

	ann, err := r.newAnnotator(p)
	if err != nil {
		return nil, fmt.Errorf("creating annotator: %w", err)
	}
	defer ann.Close()

	if err := ann.scales("Hz", "V"); err != nil {
		return nil, fmt.Errorf("drawing scales: %w", err)
	}

	freqs := make([]float64, bins)
	for i := range freqs {
		freqs[i] = float64(i) * result.BinWidth
	}
	p.polyline(freqs, result.Magnitudes, 1, RawColor)

	info := fmt.Sprintf("peak %s at %s; offset %s; bin width %s",
		humanize.SIWithDigits(result.Peak, 3, "V"),
		humanize.SIWithDigits(result.Frequency, 3, "Hz"),
		humanize.SIWithDigits(result.Offset, 3, "V"),
		humanize.SIWithDigits(result.BinWidth, 3, "Hz"))
	if err := ann.info(info); err != nil {
		return nil, fmt.Errorf("drawing info bar: %w", err)
	}
	return p.img, nil
}

// polyline strokes the points (xs[i], ys[i]) that fall inside the x range, every stride-th point.
func (p *plot) polyline(xs, ys []float64, stride int, c color.Color) {
	size := p.img.Bounds().Size()
	z := vector.NewRasterizer(size.X, size.Y)

	var (
		prevX, prevY float32
		started      bool
	)
	for i := 0; i < len(xs) && i < len(ys); i += stride {
		if xs[i] < p.xRange[0] || xs[i] > p.xRange[1] {
			started = false
			continue
		}
		x, y := p.x(xs[i]), p.clampY(p.y(ys[i]))
		if started {
			strokeSegment(z, prevX, prevY, x, y, lineWidth)
		}
		prevX, prevY, started = x, y, true
	}

	z.Draw(p.img, p.img.Bounds(), image.NewUniform(c), image.Point{})
}

func (p *plot) clampY(y float32) float32 {
	return min(max(y, float32(p.area.Min.Y)), float32(p.area.Max.Y))
}

// strokeSegment adds a quad of the given width around the segment. All quads wind the same
// way so overlapping ones do not cancel out.
func strokeSegment(z *vector.Rasterizer, x0, y0, x1, y1, width float32) {
	dx, dy := x1-x0, y1-y0
	length := float32(math.Hypot(float64(dx), float64(dy)))
	if length == 0 {
		dx, length = 1, 1
	}
	nx, ny := -dy/length*width/2, dx/length*width/2

	z.MoveTo(x0+nx, y0+ny)
	z.LineTo(x1+nx, y1+ny)
	z.LineTo(x1-nx, y1-ny)
	z.LineTo(x0-nx, y0-ny)
	z.ClosePath()
}

func WritePNG(w io.Writer, img image.Image) error {
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("encoding png: %w", err)
	}
	return nil
}

type annotator struct {
	plot     *plot
	context  *freetype.Context
	fontFace font.Face
}

func (r *Renderer) newAnnotator(p *plot) (*annotator, error) {
	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(r.font)
	ctx.SetFontSize(r.config.FontSize)
	ctx.SetHinting(font.HintingNone)
	ctx.SetSrc(image.Black)
	ctx.SetClip(p.img.Bounds())
	ctx.SetDst(p.img)

	return &annotator{
		plot:    p,
		context: ctx,
		fontFace: truetype.NewFace(r.font, &truetype.Options{
			Size:    r.config.FontSize,
			DPI:     dpi,
			Hinting: font.HintingNone,
		}),
	}, nil
}

func (a *annotator) Close() error {
	return a.fontFace.Close()
}

func (a *annotator) scales(xUnit, yUnit string) error {
	p := a.plot
	metrics := a.fontFace.Metrics()
	fontHeight := (metrics.Ascent + metrics.Descent).Round()

	xStep := niceStep(p.xRange[1]-p.xRange[0], p.area.Dx())
	for v := math.Ceil(p.xRange[0]/xStep) * xStep; v <= p.xRange[1]; v += xStep {
		x := int(p.x(v))
		for y := p.area.Min.Y; y < p.area.Max.Y; y++ {
			p.img.Set(x, y, gridColor)
		}
		for y := p.area.Max.Y; y < p.area.Max.Y+tickMarkLength; y++ {
			p.img.Set(x, y, color.Black)
		}

		label := humanize.SIWithDigits(cleanZero(v), 2, xUnit)
		width := font.MeasureString(a.fontFace, label).Round()
		pt := freetype.Pt(x-width/2, p.area.Max.Y+tickMarkLength+fontHeight)
		if _, err := a.context.DrawString(label, pt); err != nil {
			return fmt.Errorf("drawing %s label: %w", xUnit, err)
		}
	}

	yStep := niceStep(p.yRange[1]-p.yRange[0], p.area.Dy())
	for v := math.Ceil(p.yRange[0]/yStep) * yStep; v <= p.yRange[1]; v += yStep {
		y := int(p.y(v))
		for x := p.area.Min.X; x < p.area.Max.X; x++ {
			p.img.Set(x, y, gridColor)
		}
		for x := p.area.Min.X - tickMarkLength; x < p.area.Min.X; x++ {
			p.img.Set(x, y, color.Black)
		}

		label := humanize.SIWithDigits(cleanZero(v), 2, yUnit)
		width := font.MeasureString(a.fontFace, label).Round()
		pt := freetype.Pt(p.area.Min.X-tickMarkLength-3-width, y+fontHeight/2-metrics.Descent.Round())
		if _, err := a.context.DrawString(label, pt); err != nil {
			return fmt.Errorf("drawing %s label: %w", yUnit, err)
		}
	}

	// frame
	for x := p.area.Min.X; x <= p.area.Max.X; x++ {
		p.img.Set(x, p.area.Min.Y, color.Black)
		p.img.Set(x, p.area.Max.Y, color.Black)
	}
	for y := p.area.Min.Y; y <= p.area.Max.Y; y++ {
		p.img.Set(p.area.Min.X, y, color.Black)
		p.img.Set(p.area.Max.X, y, color.Black)
	}
	return nil
}

func (a *annotator) info(text string) error {
	metrics := a.fontFace.Metrics()
	y := a.plot.img.Bounds().Max.Y - metrics.Descent.Round() - 4
	_, err := a.context.DrawString(text, freetype.Pt(a.plot.area.Min.X, y))
	return err
}

// niceStep picks a 1, 2 or 5 times power of ten step giving about one label per pixelsPerLabel.
func niceStep(span float64, pixels int) float64 {
	target := span / max(float64(pixels)/pixelsPerLabel, 1)
	magnitude := math.Pow(10, math.Floor(math.Log10(target)))
	for _, m := range []float64{1, 2, 5} {
		if m*magnitude >= target {
			return m * magnitude
		}
	}
	return 10 * magnitude
}

// cleanZero removes the rounding residue of accumulated steps around zero.
func cleanZero(v float64) float64 {
	if math.Abs(v) < 1e-9 {
		return 0
	}
	return v
}
