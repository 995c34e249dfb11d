package scanning

import (
	"context"
	"encoding/base64"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Ollama", func() {
	var (
		server *ghttp.Server
		ollama *Ollama
		resp   *OCRResponse
		err    error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		var newErr error
		ollama, newErr = NewOllama(server.URL(), "llava")
		Expect(newErr).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		resp, err = ollama.Recognize(context.Background(), OCRRequest{
			ImageBase64: base64.StdEncoding.EncodeToString(pngBytes()),
		})
	})

	When("the model answers with receipt JSON", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
				ghttp.VerifyContentType("application/json"),
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
					"message": map[string]any{
						"role":    "assistant",
						"content": `{"vendor": "Walgreens", "category": "Pharmacy", "amount": "$12.00", "date": "2024-02-10"}`,
					},
					"done": true,
				}),
			))
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should report success with the receipt data", func() {
			Expect(resp.Success).To(BeTrue())
			Expect(string(resp.Data)).To(ContainSubstring("Walgreens"))
		})
	})

	When("the server returns an error status", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "model not loaded"))
		})

		It("should report a structured failure", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Success).To(BeFalse())
			Expect(resp.Error).To(ContainSubstring("500"))
		})

		It("should keep the body as diagnostic", func() {
			Expect(resp.RawModel).To(Equal("model not loaded"))
		})
	})
})
