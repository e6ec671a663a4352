package receipt

import (
	"bytes"
	"mime/multipart"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ParseCapture", func() {
	Describe("multipart uploads", func() {
		It("accepts a file part and fills the content type from the extension", func() {
			var b bytes.Buffer
			writer := multipart.NewWriter(&b)
			part, err := writer.CreateFormFile("file", "receipt.jpg")
			Expect(err).NotTo(HaveOccurred())
			part.Write([]byte("fake image data"))
			writer.Close()

			req := httptest.NewRequest("POST", "/api/receipts/scan", &b)
			req.Header.Set("Content-Type", writer.FormDataContentType())

			file, err := ParseCapture(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(file.Filename).To(Equal("receipt.jpg"))
			Expect(file.ContentType).To(Equal("image/jpeg"))
			Expect(file.Data).To(Equal([]byte("fake image data")))
			Expect(file.IsPDF()).To(BeFalse())
		})

		It("recognizes PDFs", func() {
			var b bytes.Buffer
			writer := multipart.NewWriter(&b)
			part, err := writer.CreateFormFile("file", "invoice.pdf")
			Expect(err).NotTo(HaveOccurred())
			part.Write([]byte("%PDF-1.4 fake"))
			writer.Close()

			req := httptest.NewRequest("POST", "/api/receipts/scan", &b)
			req.Header.Set("Content-Type", writer.FormDataContentType())

			file, err := ParseCapture(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(file.IsPDF()).To(BeTrue())
		})

		It("treats a missing file part as no capture", func() {
			var b bytes.Buffer
			writer := multipart.NewWriter(&b)
			writer.Close()

			req := httptest.NewRequest("POST", "/api/receipts/scan", &b)
			req.Header.Set("Content-Type", writer.FormDataContentType())

			_, err := ParseCapture(req)
			Expect(err).To(MatchError(ErrNoFile))
		})

		It("rejects unsupported file types", func() {
			var b bytes.Buffer
			writer := multipart.NewWriter(&b)
			part, err := writer.CreateFormFile("file", "notes.txt")
			Expect(err).NotTo(HaveOccurred())
			part.Write([]byte("plain text"))
			writer.Close()

			req := httptest.NewRequest("POST", "/api/receipts/scan", &b)
			req.Header.Set("Content-Type", writer.FormDataContentType())

			_, err = ParseCapture(req)
			Expect(err).To(MatchError(ContainSubstring("unsupported file type")))
		})
	})

	Describe("data URI captures", func() {
		It("decodes a base64 data URI", func() {
			body := `{"image":"data:image/jpeg;base64,ZmFrZSBpbWFnZSBkYXRh","filename":"snap.jpg"}`
			req := httptest.NewRequest("POST", "/api/receipts/scan", strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")

			file, err := ParseCapture(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(file.Filename).To(Equal("snap.jpg"))
			Expect(file.ContentType).To(Equal("image/jpeg"))
			Expect(string(file.Data)).To(Equal("fake image data"))
		})

		It("names anonymous camera snapshots", func() {
			body := `{"image":"data:image/jpeg;base64,ZmFrZSBpbWFnZSBkYXRh"}`
			req := httptest.NewRequest("POST", "/api/receipts/scan", strings.NewReader(body))

			file, err := ParseCapture(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(file.Filename).To(Equal("camera-capture.jpg"))
		})

		It("treats an empty body as no capture", func() {
			req := httptest.NewRequest("POST", "/api/receipts/scan", strings.NewReader(""))

			_, err := ParseCapture(req)
			Expect(err).To(MatchError(ErrNoFile))
		})

		It("treats an empty image field as no capture", func() {
			req := httptest.NewRequest("POST", "/api/receipts/scan", strings.NewReader(`{"image":""}`))

			_, err := ParseCapture(req)
			Expect(err).To(MatchError(ErrNoFile))
		})

		It("rejects non-data-URI payloads", func() {
			req := httptest.NewRequest("POST", "/api/receipts/scan", strings.NewReader(`{"image":"http://example.com/a.jpg"}`))

			_, err := ParseCapture(req)
			Expect(err).To(MatchError(ContainSubstring("not a data URI")))
		})

		It("rejects invalid base64 payloads", func() {
			req := httptest.NewRequest("POST", "/api/receipts/scan", strings.NewReader(`{"image":"data:image/jpeg;base64,@@@"}`))

			_, err := ParseCapture(req)
			Expect(err).To(MatchError(ContainSubstring("decoding image payload")))
		})
	})
})

var _ = Describe("Draft accessors", func() {
	Describe("AmountCents", func() {
		It("parses a plain decimal amount", func() {
			cents, err := Draft{TotalAmount: "25.99"}.AmountCents()
			Expect(err).NotTo(HaveOccurred())
			Expect(cents).To(Equal(2599))
		})

		It("tolerates currency symbols and thousands separators", func() {
			cents, err := Draft{TotalAmount: "$1,234.56"}.AmountCents()
			Expect(err).NotTo(HaveOccurred())
			Expect(cents).To(Equal(123456))
		})

		It("fails on an empty amount", func() {
			_, err := Draft{TotalAmount: ""}.AmountCents()
			Expect(err).To(HaveOccurred())
		})

		It("fails on a non-numeric amount", func() {
			_, err := Draft{TotalAmount: "about forty"}.AmountCents()
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Day", func() {
		It("parses an ISO date", func() {
			day, err := Draft{Date: "2024-03-01"}.Day()
			Expect(err).NotTo(HaveOccurred())
			Expect(day.Year()).To(Equal(2024))
			Expect(int(day.Month())).To(Equal(3))
		})

		It("fails on other formats", func() {
			_, err := Draft{Date: "3/1/2024"}.Day()
			Expect(err).To(HaveOccurred())
		})
	})
})
