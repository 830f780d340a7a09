package report

import (
	"bytes"
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"example.com/flightlog/internal/flight"
	"example.com/flightlog/internal/txtlog"
)

// cp1254Map is the Windows-1254 glyph map shipped with gofpdf's font assets.
// Only cp1250 and cp1252 are compiled into the library, so the Turkish code
// page travels with this package.
//
//go:embed cp1254.map
var cp1254Map string

// PDFOptions adjusts rendering of the flight report.
type PDFOptions struct {
	Lang Language
	// Fingerprint is the log's SHA-256 digest; when set it is printed in the
	// footer and rendered as a QR code on the first page.
	Fingerprint string
}

// pdfTranslator routes localized strings through the document's codepage so
// the Turkish glyphs survive the core-font encoding.
type pdfTranslator struct {
	Translator
	enc func(string) string
}

func (t pdfTranslator) T(key string) string { return t.enc(t.Translator.T(key)) }

func (t pdfTranslator) Format(key string, args ...interface{}) string {
	return t.enc(t.Translator.Format(key, args...))
}

// SaveFlightPDF renders the decode result into a PDF document.
func SaveFlightPDF(res *txtlog.Result, out string, opts PDFOptions) error {
	enc, err := gofpdf.UnicodeTranslator(strings.NewReader(cp1254Map))
	if err != nil {
		return fmt.Errorf("load cp1254 glyph map: %w", err)
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdfTranslator{
		Translator: NewTranslator(opts.Lang),
		enc:        enc,
	}
	pdf.SetTitle(tr.T("report.title"), false)
	pdf.SetAuthor("flightlogctl", false)
	pdf.SetCreator("flightlogctl", false)
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	addPDFTitle(pdf, tr.T("report.title"))
	addSummarySection(pdf, tr, res.Summary)
	addBatterySection(pdf, tr, res.Summary)
	addFindingsSection(pdf, tr, res)
	if opts.Fingerprint != "" {
		addFingerprintFooter(pdf, tr, opts.Fingerprint)
	}

	if pdf.Err() {
		return pdf.Error()
	}
	return pdf.OutputFileAndClose(out)
}

func addPDFTitle(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, title)
	pdf.Ln(12)
}

func addSummarySection(pdf *gofpdf.Fpdf, tr pdfTranslator, s flight.Summary) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, tr.T("section.summary"))
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "", 11)
	confidence := tr.T("value.full")
	if s.Partial {
		confidence = tr.T("value.partial")
	}
	items := []struct {
		label string
		value string
	}{
		{label: tr.T("label.filename"), value: emptyFallback(s.Filename, "-")},
		{label: tr.T("label.start_time"), value: formatStartTime(s.StartTime)},
		{label: tr.T("label.duration"), value: formatDuration(s.DurationSeconds)},
		{label: tr.T("label.data_points"), value: strconv.Itoa(s.DataPoints)},
		{label: tr.T("label.photos"), value: strconv.Itoa(s.Photos)},
		{label: tr.T("label.max_altitude"), value: formatUnit(tr, s.MaxAltitude, "%.1f m")},
		{label: tr.T("label.max_speed"), value: formatUnit(tr, s.MaxSpeed, "%.1f m/s")},
		{label: tr.T("label.total_distance"), value: formatUnit(tr, s.TotalDistance, "%.0f m")},
		{label: tr.T("label.max_distance"), value: formatUnit(tr, s.MaxDistance, "%.0f m")},
		{label: tr.T("label.home"), value: formatLocation(tr, s.HomeLocation)},
		{label: tr.T("label.end"), value: formatLocation(tr, s.EndLocation)},
		{label: tr.T("label.partial"), value: confidence},
	}
	for _, item := range items {
		pdf.CellFormat(60, 6, item.label, "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, item.value, "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)
}

func addBatterySection(pdf *gofpdf.Fpdf, tr pdfTranslator, s flight.Summary) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, tr.T("section.battery"))
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "", 11)
	items := []struct {
		label string
		value string
	}{
		{label: tr.T("label.battery_start"), value: formatPercent(tr, s.BatteryStart)},
		{label: tr.T("label.battery_end"), value: formatPercent(tr, s.BatteryEnd)},
	}
	for _, item := range items {
		pdf.CellFormat(60, 6, item.label, "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, item.value, "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)
}

func addFindingsSection(pdf *gofpdf.Fpdf, tr pdfTranslator, res *txtlog.Result) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, tr.T("section.findings"))
	pdf.Ln(9)

	if len(res.Warnings) == 0 && len(res.Errors) == 0 {
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, tr.T("findings.none"), "", "L", false)
		return
	}

	writeFinding := func(i int, kind string, d txtlog.Diagnostic) {
		pdf.SetFont("Helvetica", "B", 10)
		header := fmt.Sprintf("%d. [%s] %s", i, kind, d.Code)
		pdf.MultiCell(0, 5, header, "", "L", false)
		pdf.SetFont("Helvetica", "", 10)
		msg := d.Message
		if d.Offset > 0 {
			msg = fmt.Sprintf("%s (offset %d)", msg, d.Offset)
		}
		pdf.MultiCell(0, 5, msg, "", "L", false)
		pdf.Ln(1)
	}
	n := 0
	for _, d := range res.Errors {
		n++
		writeFinding(n, tr.T("findings.error"), d)
	}
	for _, d := range res.Warnings {
		n++
		writeFinding(n, tr.T("findings.warning"), d)
	}
}

func addFingerprintFooter(pdf *gofpdf.Fpdf, tr pdfTranslator, fingerprint string) {
	png, err := FingerprintQR(fingerprint, 160)
	if err == nil {
		opts := gofpdf.ImageOptions{ImageType: "PNG"}
		pdf.RegisterImageOptionsReader("fingerprint-qr", opts, bytes.NewReader(png))
		pdf.ImageOptions("fingerprint-qr", 160, 20, 30, 30, false, opts, 0, "")
	}
	pdf.Ln(4)
	pdf.SetFont("Helvetica", "", 8)
	pdf.MultiCell(0, 4, tr.Format("footer.fingerprint", fingerprint), "", "L", false)
}

func formatStartTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05 MST")
}

func formatDuration(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second)).Round(time.Second)
	return d.String()
}

func formatUnit(tr pdfTranslator, v *float64, format string) string {
	if v == nil {
		return tr.T("value.absent")
	}
	return fmt.Sprintf(format, *v)
}

func formatPercent(tr pdfTranslator, v *int) string {
	if v == nil {
		return tr.T("value.absent")
	}
	return fmt.Sprintf("%d%%", *v)
}

func formatLocation(tr pdfTranslator, loc *flight.Location) string {
	if loc == nil {
		return tr.T("value.absent")
	}
	return fmt.Sprintf("%.6f, %.6f", loc.Latitude, loc.Longitude)
}

func emptyFallback(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
