// Package pdf renders the assembled HTML document to PDF, either through an
// external conversion service or a local headless Chromium.
package pdf

// Margins are page margins in millimetres.
type Margins struct {
	Top    float64 `json:"top" yaml:"top"`
	Bottom float64 `json:"bottom" yaml:"bottom"`
	Left   float64 `json:"left" yaml:"left"`
	Right  float64 `json:"right" yaml:"right"`
}

// Options are the print settings shared by both renderers.
type Options struct {
	Format          string  `json:"format" yaml:"format"`
	Margins         Margins `json:"margin" yaml:"margins"`
	HeaderTemplate  string  `json:"headerTemplate,omitempty" yaml:"header_template"`
	FooterTemplate  string  `json:"footerTemplate,omitempty" yaml:"footer_template"`
	PrintBackground bool    `json:"printBackground" yaml:"print_background"`
}

// DefaultOptions prints A4 with a page-number footer.
func DefaultOptions() Options {
	return Options{
		Format:          "A4",
		Margins:         Margins{Top: 20, Bottom: 20, Left: 18, Right: 18},
		HeaderTemplate:  "<span></span>",
		FooterTemplate:  `<div style="font-size:9px;width:100%;text-align:center;color:#888;"><span class="pageNumber"></span> / <span class="totalPages"></span></div>`,
		PrintBackground: true,
	}
}

// paperSizes maps formats to width and height in inches.
var paperSizes = map[string][2]float64{
	"A4":     {8.27, 11.69},
	"A5":     {5.83, 8.27},
	"Letter": {8.5, 11},
	"Legal":  {8.5, 14},
}

func paperSize(format string) (float64, float64) {
	if s, ok := paperSizes[format]; ok {
		return s[0], s[1]
	}
	s := paperSizes["A4"]
	return s[0], s[1]
}

func mmToInches(mm float64) float64 {
	return mm / 25.4
}
