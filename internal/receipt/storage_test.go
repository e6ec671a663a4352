package receipt

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(tmpDir)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Save", func() {
		It("writes the file to disk and returns its name", func() {
			savedPath, err := storage.Save("r-1_receipt.jpg", []byte("file content"))
			Expect(err).NotTo(HaveOccurred())
			Expect(savedPath).To(Equal("r-1_receipt.jpg"))
			Expect(filepath.Join(tmpDir, "r-1_receipt.jpg")).To(BeAnExistingFile())
		})
	})

	Describe("Get", func() {
		When("the file exists", func() {
			BeforeEach(func() {
				_, err := storage.Save("r-1_invoice.pdf", []byte("%PDF-1.4 fake"))
				Expect(err).NotTo(HaveOccurred())
			})

			It("returns the stored bytes unchanged", func() {
				data, err := storage.Get("r-1_invoice.pdf")
				Expect(err).NotTo(HaveOccurred())
				Expect(data).To(Equal([]byte("%PDF-1.4 fake")))
			})
		})

		When("the file does not exist", func() {
			It("returns the error", func() {
				_, err := storage.Get("nonexistent.jpg")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("reading file"))
			})
		})
	})

	Describe("Delete", func() {
		When("the file exists", func() {
			BeforeEach(func() {
				_, err := storage.Save("r-1_receipt.jpg", []byte("data"))
				Expect(err).NotTo(HaveOccurred())
			})

			It("removes the file from disk", func() {
				Expect(storage.Delete("r-1_receipt.jpg")).To(Succeed())
				Expect(filepath.Join(tmpDir, "r-1_receipt.jpg")).NotTo(BeAnExistingFile())
			})
		})

		When("the file does not exist", func() {
			It("returns the error", func() {
				err := storage.Delete("nonexistent.jpg")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("deleting file"))
			})
		})
	})

	Describe("NewLocalStorage", func() {
		It("creates the directory when missing", func() {
			path := filepath.Join(GinkgoT().TempDir(), "receipts")
			created, err := NewLocalStorage(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(path).To(BeADirectory())

			_, err = created.Save("test.jpg", []byte("data"))
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
