package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// Field is one labelled value in a dossier section.
type Field struct {
	Label string
	Value string
}

// Section groups fields and an optional free-text body under a heading.
type Section struct {
	Heading string
	Fields  []Field
	Body    string
	Items   []string
}

// Dossier is the document rendered for a case workflow.
type Dossier struct {
	Title    string
	Subtitle string
	Sections []Section
	Footer   string
}

// DossierRenderer renders dossiers as A4 PDFs.
type DossierRenderer struct{}

// NewDossierRenderer constructs a renderer.
func NewDossierRenderer() *DossierRenderer {
	return &DossierRenderer{}
}

// Render lays out the dossier and returns the PDF bytes.
func (r *DossierRenderer) Render(d Dossier) ([]byte, error) {
	if len(d.Sections) == 0 {
		return nil, fmt.Errorf("dossier requires at least one section")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 15)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	if d.Footer != "" {
		pdf.SetFooterFunc(func() {
			pdf.SetY(-12)
			pdf.SetFont("Arial", "I", 8)
			pdf.CellFormat(0, 6, tr(fmt.Sprintf("%s - page %d", d.Footer, pdf.PageNo())), "", 0, "C", false, 0, "")
		})
	}
	pdf.AddPage()

	if d.Title != "" {
		pdf.SetFont("Arial", "B", 15)
		pdf.CellFormat(0, 10, tr(strings.ToUpper(d.Title)), "", 1, "C", false, 0, "")
	}
	if d.Subtitle != "" {
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(0, 6, tr(d.Subtitle), "", 1, "C", false, 0, "")
	}
	pdf.Ln(4)

	for _, section := range d.Sections {
		pdf.SetFont("Arial", "B", 12)
		pdf.SetFillColor(230, 230, 230)
		pdf.CellFormat(0, 8, tr(section.Heading), "", 1, "", true, 0, "")
		pdf.Ln(1)

		for _, field := range section.Fields {
			value := field.Value
			if value == "" {
				value = "-"
			}
			pdf.SetFont("Arial", "B", 9)
			pdf.CellFormat(45, 6, tr(field.Label), "", 0, "", false, 0, "")
			pdf.SetFont("Arial", "", 9)
			pdf.MultiCell(0, 6, tr(value), "", "", false)
		}
		if section.Body != "" {
			pdf.Ln(1)
			pdf.SetFont("Arial", "", 10)
			pdf.MultiCell(0, 5, tr(section.Body), "", "", false)
		}
		for _, item := range section.Items {
			pdf.SetFont("Arial", "", 9)
			pdf.MultiCell(0, 5, tr("- "+item), "", "", false)
		}
		pdf.Ln(4)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render dossier: %w", err)
	}
	return buf.Bytes(), nil
}
