package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/signintech/gopdf"

	"homeoclinic-agent/internal/consultation"
)

const disclaimer = "This prescription is generated by HomeoClinic AI based on homeopathic principles. " +
	"For serious or persistent symptoms, please consult a qualified healthcare professional. " +
	"Homeopathy should complement, not replace, conventional medical treatment when necessary."

// Service renders a prescription into the downloadable formats. Every
// renderer is a pure function of the record.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

// Markdown renders the full prescription report.
func (s *Service) Markdown(p consultation.Prescription) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# HomeoClinic AI - Prescription\n\n")
	fmt.Fprintf(&b, "## Patient Information\n")
	fmt.Fprintf(&b, "- **Date**: %s\n", p.Date)
	fmt.Fprintf(&b, "- **Patient**: %s\n", orDefault(p.PatientName, "Patient"))
	fmt.Fprintf(&b, "- **Chief Complaint**: %s\n\n", orDefault(p.ChiefComplaint, "N/A"))
	fmt.Fprintf(&b, "## Homeopathic Diagnosis\n%s\n\n", orDefault(p.Diagnosis, "Based on symptoms presented"))

	if p.CaseSummary != "" {
		fmt.Fprintf(&b, "## Case Summary\n%s\n\n", p.CaseSummary)
	}
	if p.ConstitutionalType != "" {
		fmt.Fprintf(&b, "## Constitutional Type\n%s\n\n", p.ConstitutionalType)
	}
	if p.MiasmaticAssessment != "" {
		fmt.Fprintf(&b, "## Miasmatic Assessment\n%s\n\n", p.MiasmaticAssessment)
	}

	fmt.Fprintf(&b, "## Prescribed Remedies\n\n")
	for i, remedy := range p.Remedies {
		fmt.Fprintf(&b, "### %d. %s - %s\n\n", i+1, remedy.Medicine, remedy.Potency)
		fmt.Fprintf(&b, "- **Dosage**: %s\n", remedy.Dosage)
		fmt.Fprintf(&b, "- **Instructions**: %s\n", remedy.Instructions)
		fmt.Fprintf(&b, "- **Purpose**: %s\n", remedy.Purpose)
		if remedy.KeynoteMatch != "" {
			fmt.Fprintf(&b, "- **Keynote Match**: %s\n", remedy.KeynoteMatch)
		}
		b.WriteString("\n")
	}

	writeList(&b, "Dietary Advice", p.DietaryAdvice)
	writeList(&b, "Lifestyle Recommendations", p.LifestyleRecommendations)
	writeList(&b, "Mind-Body Guidance", p.MindBodyGuidance)
	writeList(&b, "Complementary Support", p.ComplementarySupport)
	writeList(&b, "Important Precautions", p.Precautions)

	if p.HealingProgression != "" {
		fmt.Fprintf(&b, "## Healing Progression\n%s\n\n", p.HealingProgression)
	}
	if p.AggravationNote != "" {
		fmt.Fprintf(&b, "## Aggravation Note\n%s\n\n", p.AggravationNote)
	}
	if p.RemedyRepeatGuidance != "" {
		fmt.Fprintf(&b, "## Remedy Repetition\n%s\n\n", p.RemedyRepeatGuidance)
	}

	fmt.Fprintf(&b, "## Follow-Up\n%s\n\n", orDefault(p.FollowUp, "Please follow up after 2 weeks or if symptoms worsen"))

	if p.RedFlags != "" {
		fmt.Fprintf(&b, "## Red Flags\n%s\n\n", p.RedFlags)
	}

	fmt.Fprintf(&b, "### Disclaimer\n*%s*\n", orDefault(p.Disclaimer, disclaimer))
	return b.String()
}

// CSV renders the remedies-only tabular export.
func (s *Service) CSV(p consultation.Prescription) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"S.No", "Medicine", "Potency", "Dosage", "Instructions", "Purpose"}); err != nil {
		return "", err
	}
	for i, remedy := range p.Remedies {
		row := []string{strconv.Itoa(i + 1), remedy.Medicine, remedy.Potency, remedy.Dosage, remedy.Instructions, remedy.Purpose}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	return buf.String(), w.Error()
}

// JSON renders the raw structured-data dump.
func (s *Service) JSON(p consultation.Prescription) ([]byte, error) {
	return json.MarshalIndent(p, "", "  ")
}

// PDF renders the paginated document export.
func (s *Service) PDF(p consultation.Prescription) ([]byte, error) {
	pdf := gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.AddPage()

	fontPaths := []string{
		"/usr/share/fonts/ttf-dejavu/DejaVuSans.ttf",
		"/usr/share/fonts/dejavu/DejaVuSans.ttf",
		"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
	}

	var fontErr error
	fontLoaded := false
	for _, path := range fontPaths {
		if err := pdf.AddTTFFont("DejaVu", path); err == nil {
			fontLoaded = true
			break
		} else {
			fontErr = err
		}
	}
	if !fontLoaded {
		return nil, fmt.Errorf("failed to load font for PDF, ensure ttf-dejavu is installed: %w", fontErr)
	}

	write := func(size float64, text string) error {
		if err := pdf.SetFont("DejaVu", "", size); err != nil {
			return err
		}
		lines, _ := pdf.SplitText(text, 500)
		for _, l := range lines {
			if pdf.GetY() > 790 {
				pdf.AddPage()
				pdf.SetY(40)
			}
			pdf.Cell(nil, l)
			pdf.Br(size + 4)
		}
		return nil
	}

	if err := write(20, "HomeoClinic AI - Prescription"); err != nil {
		return nil, err
	}
	pdf.Br(10)
	if err := write(12, fmt.Sprintf("Date: %s", p.Date)); err != nil {
		return nil, err
	}
	if err := write(12, fmt.Sprintf("Patient: %s", orDefault(p.PatientName, "Patient"))); err != nil {
		return nil, err
	}
	if err := write(12, fmt.Sprintf("Chief Complaint: %s", orDefault(p.ChiefComplaint, "N/A"))); err != nil {
		return nil, err
	}
	if err := write(12, fmt.Sprintf("Diagnosis: %s", orDefault(p.Diagnosis, "Based on symptoms presented"))); err != nil {
		return nil, err
	}
	pdf.Br(10)

	if err := write(14, "Prescribed Remedies:"); err != nil {
		return nil, err
	}
	for i, remedy := range p.Remedies {
		line := fmt.Sprintf("%d. %s %s - %s. %s (%s)", i+1, remedy.Medicine, remedy.Potency, remedy.Dosage, remedy.Instructions, remedy.Purpose)
		if err := write(11, line); err != nil {
			return nil, err
		}
	}
	pdf.Br(10)

	sections := []struct {
		title string
		items []string
	}{
		{"Dietary Advice:", p.DietaryAdvice},
		{"Lifestyle Recommendations:", p.LifestyleRecommendations},
		{"Precautions:", p.Precautions},
	}
	for _, section := range sections {
		if len(section.items) == 0 {
			continue
		}
		if err := write(14, section.title); err != nil {
			return nil, err
		}
		for _, item := range section.items {
			if err := write(11, "- "+item); err != nil {
				return nil, err
			}
		}
		pdf.Br(6)
	}

	if err := write(12, "Follow-Up: "+orDefault(p.FollowUp, "Please follow up after 2 weeks or if symptoms worsen")); err != nil {
		return nil, err
	}
	pdf.Br(10)
	if err := write(9, orDefault(p.Disclaimer, disclaimer)); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := pdf.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "## %s\n\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
	b.WriteString("\n")
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
