package render

import (
	"bytes"
	"fmt"
	"strings"
	"time"
)

// TicketPDFData is everything one printable ticket shows.
type TicketPDFData struct {
	AttendeeName string
	EventName    string
	EventDate    time.Time
	ProductName  string
	Category     string
	Token        string
	QRPayload    []byte
}

// PDFRenderer assembles a minimal single-page PDF by hand. Good enough for a
// scannable ticket; swapping in a full engine only touches this package.
type PDFRenderer struct{}

func NewPDFRenderer() *PDFRenderer {
	return &PDFRenderer{}
}

func (r *PDFRenderer) Render(data TicketPDFData) ([]byte, error) {
	content := r.contentStream(data)

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	offsets := make([]int, 0, 6)
	writeObj := func(body string) {
		offsets = append(offsets, buf.Len())
		buf.WriteString(body)
	}

	writeObj("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	writeObj("2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n")
	writeObj("3 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R /F2 6 0 R >> >> >>\nendobj\n")
	writeObj(fmt.Sprintf("4 0 obj\n<< /Length %d >>\nstream\n%s\nendstream\nendobj\n", len(content), content))
	writeObj("5 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>\nendobj\n")
	writeObj("6 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica-Bold >>\nendobj\n")

	xrefStart := buf.Len()
	buf.WriteString(fmt.Sprintf("xref\n0 %d\n", len(offsets)+1))
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		buf.WriteString(fmt.Sprintf("%010d 00000 n \n", off))
	}
	buf.WriteString(fmt.Sprintf("trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xrefStart))

	return buf.Bytes(), nil
}

func (r *PDFRenderer) contentStream(data TicketPDFData) string {
	esc := func(s string) string {
		s = strings.ReplaceAll(s, "\\", "\\\\")
		s = strings.ReplaceAll(s, "(", "\\(")
		return strings.ReplaceAll(s, ")", "\\)")
	}

	var b strings.Builder
	line := func(font string, size int, y int, text string) {
		fmt.Fprintf(&b, "BT /%s %d Tf 72 %d Td (%s) Tj ET\n", font, size, y, esc(text))
	}

	line("F2", 20, 720, data.EventName)
	line("F1", 12, 695, data.EventDate.Format("Monday, 2 January 2006 15:04"))
	line("F1", 14, 660, data.ProductName+" - "+data.Category)
	line("F1", 12, 635, "Attendee: "+data.AttendeeName)
	line("F2", 12, 600, "Ticket: "+data.Token)
	line("F1", 8, 560, string(data.QRPayload))
	line("F1", 9, 100, "Present this ticket at the entrance. One admission per ticket.")
	return b.String()
}
