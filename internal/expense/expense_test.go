package expense

import (
	"encoding/base64"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Error", func() {
	It("matches sentinels by kind", func() {
		err := fmt.Errorf("saving: %w", &Error{Kind: InvalidDraft, Field: "amount", Message: "amount must be greater than zero"})
		Expect(errors.Is(err, ErrInvalidDraft)).To(BeTrue())
		Expect(errors.Is(err, ErrAlreadyDecided)).To(BeFalse())
		Expect(KindOf(err)).To(Equal(InvalidDraft))
	})

	It("matches on field when the target names one", func() {
		err := &Error{Kind: InvalidDraft, Field: "amount"}
		Expect(errors.Is(err, InvalidDraftError("amount", ""))).To(BeTrue())
		Expect(errors.Is(err, InvalidDraftError("date", ""))).To(BeFalse())
	})

	It("keeps the diagnostic out of the user message", func() {
		err := &Error{Kind: ExtractionFailed, Message: "Not a receipt.", Diagnostic: "raw model text"}
		Expect(err.UserMessage()).To(Equal("Not a receipt."))
		Expect(err.Error()).NotTo(ContainSubstring("raw model text"))
	})

	It("falls back to the kind name", func() {
		Expect((&Error{Kind: ExtractionTimeout}).UserMessage()).To(Equal("extraction timeout"))
		Expect(KindOf(errors.New("plain"))).To(Equal(KindUnknown))
	})

	It("unwraps the cause", func() {
		cause := errors.New("connection reset")
		Expect(errors.Is(&Error{Kind: ExtractionFailed, Err: cause}, cause)).To(BeTrue())
	})

	It("recognizes already-decided conflicts", func() {
		Expect(IsAlreadyDecided(&Error{Kind: AlreadyDecided, Field: "a:1"})).To(BeTrue())
		Expect(IsAlreadyDecided(errors.New("nope"))).To(BeFalse())
	})
})

var _ = Describe("DecodeCapture", func() {
	It("decodes plain base64", func() {
		c, err := DecodeCapture(base64.StdEncoding.EncodeToString([]byte("img")), SourceCamera)
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Data).To(Equal([]byte("img")))
		Expect(c.Source).To(Equal(SourceCamera))
	})

	It("accepts browser data URLs and defaults the source", func() {
		c, err := DecodeCapture("data:image/png;base64,"+base64.StdEncoding.EncodeToString([]byte("img")), "")
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Data).To(Equal([]byte("img")))
		Expect(c.Source).To(Equal(SourceFile))
	})

	It("rejects invalid base64 as an unsupported format", func() {
		_, err := DecodeCapture("!!!", SourceFile)
		Expect(KindOf(err)).To(Equal(UnsupportedFormat))
	})
})

var _ = Describe("ParseCaptureSource", func() {
	It("accepts the known sources in any case", func() {
		Expect(ParseCaptureSource("camera")).To(Equal(SourceCamera))
		Expect(ParseCaptureSource(" Gallery ")).To(Equal(SourceGallery))
		Expect(ParseCaptureSource("FILE")).To(Equal(SourceFile))
	})

	It("defaults an empty source to file", func() {
		Expect(ParseCaptureSource("")).To(Equal(SourceFile))
	})

	It("rejects anything else", func() {
		_, err := ParseCaptureSource("scanner")
		Expect(err).To(MatchError(ContainSubstring("unknown capture source")))
	})
})

var _ = Describe("BankTransaction", func() {
	It("is keyed by account and ID", func() {
		t := BankTransaction{ID: "t1", AccountID: "acct"}
		Expect(t.Key()).To(Equal("acct:t1"))
	})

	It("keeps identities with colons distinct", func() {
		a := BankTransaction{AccountID: "a:b", ID: "c"}
		b := BankTransaction{AccountID: "a", ID: "b:c"}
		Expect(a.Key()).NotTo(Equal(b.Key()))
		Expect(a.Key()).To(Equal("a%3Ab:c"))
		Expect(b.Key()).To(Equal("a:b:c"))
	})

	It("escapes percent signs in the account", func() {
		a := BankTransaction{AccountID: "a%3Ab", ID: "c"}
		b := BankTransaction{AccountID: "a:b", ID: "c"}
		Expect(a.Key()).NotTo(Equal(b.Key()))
	})

	It("reports debits and absolute amounts", func() {
		t := BankTransaction{AmountCents: -4250}
		Expect(t.IsDebit()).To(BeTrue())
		Expect(t.Amount().StringFixed(2)).To(Equal("42.50"))
	})
})

var _ = Describe("SourceRef", func() {
	It("deduplicates everything except manual entries", func() {
		Expect(SourceRef{Type: SourceOCR, ID: "c1"}.Deduplicated()).To(BeTrue())
		Expect(SourceRef{Type: SourceTransaction, ID: "a:1"}.Deduplicated()).To(BeTrue())
		Expect(SourceRef{Type: SourceManual}.Deduplicated()).To(BeFalse())
		Expect(SourceRef{Type: SourceOCR, ID: "c1"}.String()).To(Equal("ocr:c1"))
	})
})
