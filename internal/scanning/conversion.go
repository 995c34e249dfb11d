package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"net/http"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"

	"github.com/zombor/caretrack/internal/config"
)

// receiptScanPrompt is the shared prompt used by all LLM providers for scanning receipts
const receiptScanPrompt = `You are analyzing a receipt or invoice document. Carefully read all text in the image and extract the following information:

1. **vendor**: The merchant, pharmacy, clinic or business name, usually the largest text at the top. Examples: "CVS Pharmacy", "Walgreens", "Mercy Home Health".

2. **category**: A short expense category for the purchase, such as "Pharmacy", "Doctor Visit", "Medical Supplies", "Home Care", "Transportation", "Groceries" or "Other".

3. **amount**: The final total, grand total, or amount due, exactly as printed including the currency symbol (e.g. "$42.17").

4. **date**: The transaction date in ISO 8601 format (YYYY-MM-DD).

5. **fieldConfidence**: Your confidence from 0.0 to 1.0 that each field above was read correctly.

Return ONLY valid JSON in this exact format:
{
  "vendor": "Store Name",
  "category": "Pharmacy",
  "amount": "$0.00",
  "date": "YYYY-MM-DD",
  "fieldConfidence": {"vendor": 0.0, "category": 0.0, "amount": 0.0, "date": 0.0}
}

Important:
- If you cannot find a field, use null for that field and 0.0 for its confidence
- If the image is not a receipt or invoice, return {"error": "short reason"} instead
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// sniffFormat identifies the capture format from its leading bytes
func sniffFormat(data []byte) string {
	if isHEICFormat(data) {
		return config.FormatHEIC
	}
	switch http.DetectContentType(data) {
	case "image/jpeg":
		return config.FormatJPEG
	case "image/png":
		return config.FormatPNG
	case "image/gif":
		return config.FormatGIF
	case "application/pdf":
		return config.FormatPDF
	}
	return ""
}

// isHEICFormat checks if the image data is in HEIC/HEIF format.
// HEIC files carry an ftyp box at offset 4 with a HEIF-family brand.
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

// countPDFPages opens a PDF and returns its page count
func countPDFPages(data []byte) (int, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return 0, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()
	return doc.NumPage(), nil
}

// pdfToImage renders the first page of a PDF as PNG
func pdfToImage(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return encodePNG(img)
}

// toPNG converts a sniffed capture to PNG, which every provider accepts
func toPNG(data []byte) ([]byte, error) {
	switch format := sniffFormat(data); format {
	case config.FormatPNG:
		return data, nil
	case config.FormatPDF:
		return pdfToImage(data)
	case config.FormatHEIC:
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return encodePNG(img)
	case config.FormatJPEG, config.FormatGIF:
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding %s image: %w", format, err)
		}
		return encodePNG(img)
	default:
		return nil, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF")
	}
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}
