package config

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Default", func() {
	It("is valid", func() {
		Expect(Default().Validate()).To(Succeed())
	})

	It("caps payloads at 10MB and PDFs at one page", func() {
		cfg := Default()
		Expect(cfg.Extraction.MaxPayloadBytes).To(Equal(int64(10 << 20)))
		Expect(cfg.Extraction.MaxPDFPages).To(Equal(1))
		Expect(cfg.Classification.MedicalLikelihood).To(Equal(0.8))
		Expect(cfg.Classification.TransportationLikelihood).To(Equal(0.5))
		Expect(cfg.Classification.UnmatchedLikelihood).To(Equal(0.1))
	})
})

var _ = Describe("Validate", func() {
	var cfg *Pipeline

	BeforeEach(func() {
		cfg = Default()
	})

	It("rejects likelihoods outside [0,1]", func() {
		cfg.Classification.MedicalLikelihood = 1.5
		Expect(cfg.Validate()).To(MatchError(ContainSubstring("classification")))
	})

	It("rejects unknown formats", func() {
		cfg.Extraction.AllowedFormats = []string{"png", "tiff"}
		Expect(cfg.Validate()).To(MatchError(ContainSubstring("extraction")))
	})

	It("requires a timeout", func() {
		cfg.Extraction.Timeout = 0
		Expect(cfg.Validate()).To(HaveOccurred())
	})

	It("requires the ambiguous ceiling to sit below the review threshold", func() {
		cfg.Extraction.AmbiguousFieldConfidence = 0.6
		Expect(cfg.Validate()).To(MatchError(ContainSubstring("ambiguous_field_confidence")))
	})

	It("rejects a negative clock skew", func() {
		cfg.Ledger.ClockSkewTolerance = -time.Hour
		Expect(cfg.Validate()).To(MatchError(ContainSubstring("ledger")))
	})
})

var _ = Describe("AllowsFormat", func() {
	It("matches the configured formats", func() {
		cfg := ExtractionConfig{AllowedFormats: []string{FormatJPEG, FormatPNG}}
		Expect(cfg.AllowsFormat(FormatPNG)).To(BeTrue())
		Expect(cfg.AllowsFormat(FormatPDF)).To(BeFalse())
	})
})

var _ = Describe("LoadFile", func() {
	var path string

	BeforeEach(func() {
		path = filepath.Join(GinkgoT().TempDir(), "caretrack.yaml")
	})

	It("returns the defaults without a path", func() {
		cfg, err := LoadFile("")
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg).To(Equal(Default()))
	})

	It("overlays the file on the defaults", func() {
		Expect(os.WriteFile(path, []byte(`
extraction:
  timeout: 30s
  max_pdf_pages: 2
classification:
  candidate_cutoff: 0.7
`), 0o644)).To(Succeed())

		cfg, err := LoadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Extraction.Timeout).To(Equal(30 * time.Second))
		Expect(cfg.Extraction.MaxPDFPages).To(Equal(2))
		Expect(cfg.Extraction.MaxPayloadBytes).To(Equal(int64(10 << 20)))
		Expect(cfg.Classification.CandidateCutoff).To(Equal(0.7))
		Expect(cfg.Classification.MedicalLikelihood).To(Equal(0.8))
	})

	It("expands environment variables", func() {
		GinkgoT().Setenv("CARETRACK_TEST_CUTOFF", "0.65")
		Expect(os.WriteFile(path, []byte("classification:\n  candidate_cutoff: ${CARETRACK_TEST_CUTOFF}\n"), 0o644)).To(Succeed())

		cfg, err := LoadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Classification.CandidateCutoff).To(Equal(0.65))
	})

	It("rejects invalid values", func() {
		Expect(os.WriteFile(path, []byte("classification:\n  credit_factor: 3\n"), 0o644)).To(Succeed())

		_, err := LoadFile(path)
		Expect(err).To(MatchError(ContainSubstring("validating config")))
	})

	It("fails on a missing file", func() {
		_, err := LoadFile(filepath.Join(GinkgoT().TempDir(), "nope.yaml"))
		Expect(err).To(MatchError(ContainSubstring("reading config file")))
	})
})
