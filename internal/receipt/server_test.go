package receipt

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/bizznex/bizznex/internal/auth"
	"github.com/bizznex/bizznex/internal/scanning"
)

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		scanner     *mockScanner
		gate        *mockGate
		service     *Service
		verifier    *auth.HMACVerifier
		token       string
		server      *Server
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		server = NewServerWithMux(service, verifier, Billing{}, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	}

	authedRequest := func(method, path string, contentType string, body io.Reader) *http.Response {
		req, err := http.NewRequest(method, ghttpServer.URL()+path, body)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Authorization", "Bearer "+token)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decodeBody := func(resp *http.Response) map[string]any {
		defer resp.Body.Close()
		var body map[string]any
		data, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(json.Unmarshal(data, &body)).NotTo(HaveOccurred())
		return body
	}

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		scanner = newMockScanner()
		gate = newMockGate()
		service = NewServiceWithDeps(db, scanner, storage, gate,
			&mockIDGenerator{id: "test-id-123"},
			&mockTimeSource{now: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)},
		)

		var err error
		verifier, err = auth.NewHMACVerifier("test-secret")
		Expect(err).NotTo(HaveOccurred())
		token, err = verifier.GenerateToken("user-1", "user@example.com", time.Hour)
		Expect(err).NotTo(HaveOccurred())

		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	Describe("requireAuth", func() {
		When("no authorization header is provided", func() {
			It("should return status Unauthorized", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/receipts")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				resp.Body.Close()
			})
		})

		When("the token is not a bearer token", func() {
			It("should return status Unauthorized", func() {
				req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/receipts", nil)
				Expect(err).NotTo(HaveOccurred())
				req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				resp.Body.Close()
			})
		})

		When("the token is signed with the wrong secret", func() {
			It("should return status Unauthorized", func() {
				other, err := auth.NewHMACVerifier("wrong-secret")
				Expect(err).NotTo(HaveOccurred())
				forged, err := other.GenerateToken("user-1", "user@example.com", time.Hour)
				Expect(err).NotTo(HaveOccurred())

				req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/receipts", nil)
				Expect(err).NotTo(HaveOccurred())
				req.Header.Set("Authorization", "Bearer "+forged)
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				resp.Body.Close()
			})
		})

		When("the token is valid", func() {
			It("should serve the request", func() {
				resp := authedRequest("GET", "/api/receipts", "", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				resp.Body.Close()
			})
		})
	})

	Describe("handleCheckUsage", func() {
		When("quota remains", func() {
			BeforeEach(func() {
				gate.usage = 40
			})

			It("should return the usage snapshot without consuming any", func() {
				resp := authedRequest("GET", "/api/receipt-scanner-usage", "", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				body := decodeBody(resp)
				Expect(body["success"]).To(BeTrue())
				data := body["data"].(map[string]any)
				Expect(data["currentUsage"]).To(BeNumerically("==", 40))
				Expect(data["limit"]).To(BeNumerically("==", 100))
				Expect(data["remaining"]).To(BeNumerically("==", 60))
				Expect(data["canUseFeature"]).To(BeTrue())
				Expect(gate.incrementCalls).To(Equal(0))
			})
		})
	})

	Describe("handleIncrementUsage", func() {
		When("quota remains", func() {
			It("should consume one scan", func() {
				resp := authedRequest("POST", "/api/receipt-scanner-usage", "", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				body := decodeBody(resp)
				data := body["data"].(map[string]any)
				Expect(data["currentUsage"]).To(BeNumerically("==", 1))
			})
		})

		When("the quota is exhausted", func() {
			BeforeEach(func() {
				gate.usage = 100
			})

			It("should return status Forbidden with the refusal body", func() {
				resp := authedRequest("POST", "/api/receipt-scanner-usage", "", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusForbidden))

				body := decodeBody(resp)
				Expect(body["success"]).To(BeFalse())
				Expect(body["canUseFeature"]).To(BeFalse())
				Expect(body["message"]).To(ContainSubstring("Upgrade"))
				data := body["data"].(map[string]any)
				Expect(data["remaining"]).To(BeNumerically("==", 0))
			})
		})
	})

	Describe("handleScanReceipt", func() {
		scanMultipart := func(filename string, data []byte) *http.Response {
			var b bytes.Buffer
			writer := multipart.NewWriter(&b)
			part, err := writer.CreateFormFile("file", filename)
			Expect(err).NotTo(HaveOccurred())
			part.Write(data)
			writer.Close()
			return authedRequest("POST", "/api/receipts/scan", writer.FormDataContentType(), &b)
		}

		When("extraction succeeds", func() {
			It("should return the draft with usage and preview", func() {
				resp := scanMultipart("receipt.jpg", []byte("fake image data"))
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				body := decodeBody(resp)
				Expect(body["success"]).To(BeTrue())
				Expect(body["source"]).To(Equal("extraction"))
				data := body["data"].(map[string]any)
				Expect(data["vendor"]).To(Equal("Home Depot"))
				Expect(body["preview"]).To(HavePrefix("data:image/jpeg;base64,"))
				usage := body["usage"].(map[string]any)
				Expect(usage["currentUsage"]).To(BeNumerically("==", 1))
			})
		})

		When("extraction fails", func() {
			BeforeEach(func() {
				scanner.scanErr = &scanning.ScanError{
					Kind:    scanning.KindProvider,
					Message: "provider exploded",
				}
			})

			It("should return the skeleton draft with the error attached", func() {
				resp := scanMultipart("receipt.jpg", []byte("fake image data"))
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				body := decodeBody(resp)
				Expect(body["success"]).To(BeFalse())
				data := body["data"].(map[string]any)
				Expect(data["vendor"]).To(Equal("Unknown Vendor"))
				errBody := body["error"].(map[string]any)
				Expect(errBody["kind"]).To(Equal("provider_error"))
			})
		})

		When("the quota is exhausted", func() {
			BeforeEach(func() {
				gate.usage = 100
			})

			It("should return status Forbidden", func() {
				resp := scanMultipart("receipt.jpg", []byte("fake image data"))
				Expect(resp.StatusCode).To(Equal(http.StatusForbidden))

				body := decodeBody(resp)
				Expect(body["canUseFeature"]).To(BeFalse())
			})
		})

		When("no file is provided", func() {
			It("should return status No Content", func() {
				var b bytes.Buffer
				writer := multipart.NewWriter(&b)
				writer.Close()

				resp := authedRequest("POST", "/api/receipts/scan", writer.FormDataContentType(), &b)
				Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
				resp.Body.Close()
			})
		})

		When("the file arrives as a data URI", func() {
			It("should accept the base64 payload", func() {
				payload := map[string]string{
					"image":    "data:image/jpeg;base64,ZmFrZSBpbWFnZSBkYXRh",
					"filename": "receipt.jpg",
				}
				data, err := json.Marshal(payload)
				Expect(err).NotTo(HaveOccurred())

				resp := authedRequest("POST", "/api/receipts/scan", "application/json", bytes.NewReader(data))
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				body := decodeBody(resp)
				Expect(body["source"]).To(Equal("extraction"))
			})
		})
	})

	Describe("handleSaveReceipt", func() {
		When("the body is a JSON draft", func() {
			It("should return status Created with the persisted record", func() {
				draft := Draft{
					Vendor:      "Home Depot",
					Date:        "2024-01-15",
					TotalAmount: "25.99",
					Category:    "Materials",
				}
				data, err := json.Marshal(draft)
				Expect(err).NotTo(HaveOccurred())

				resp := authedRequest("POST", "/api/receipts", "application/json", bytes.NewReader(data))
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				body := decodeBody(resp)
				Expect(body["success"]).To(BeTrue())
				record := body["data"].(map[string]any)
				Expect(record["id"]).To(Equal("test-id-123"))
				Expect(record["vendor"]).To(Equal("Home Depot"))
				Expect(db.receipts).To(HaveKey("test-id-123"))
			})
		})

		When("the body is a multipart form with a source file", func() {
			It("should store the file alongside the record", func() {
				var b bytes.Buffer
				writer := multipart.NewWriter(&b)
				draftJSON, err := json.Marshal(Draft{Vendor: "Home Depot", TotalAmount: "25.99"})
				Expect(err).NotTo(HaveOccurred())
				Expect(writer.WriteField("receipt", string(draftJSON))).To(Succeed())
				part, err := writer.CreateFormFile("file", "receipt.jpg")
				Expect(err).NotTo(HaveOccurred())
				part.Write([]byte("fake image data"))
				writer.Close()

				resp := authedRequest("POST", "/api/receipts", writer.FormDataContentType(), &b)
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				resp.Body.Close()

				Expect(storage.files).To(HaveKey("test-id-123_receipt.jpg"))
			})
		})

		When("the body is invalid JSON", func() {
			It("should return status Bad Request", func() {
				resp := authedRequest("POST", "/api/receipts", "application/json", bytes.NewBufferString("not json"))
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})

		When("the database save fails", func() {
			BeforeEach(func() {
				db.saveErr = errors.New("database error")
			})

			It("should tell the caller the draft was kept", func() {
				data, err := json.Marshal(Draft{Vendor: "Home Depot"})
				Expect(err).NotTo(HaveOccurred())

				resp := authedRequest("POST", "/api/receipts", "application/json", bytes.NewReader(data))
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))

				body := decodeBody(resp)
				Expect(body["message"]).To(ContainSubstring("draft was kept"))
			})
		})
	})

	Describe("handleListReceipts", func() {
		BeforeEach(func() {
			db.receipts["r-1"] = &Receipt{ID: "r-1", UserID: "user-1"}
			db.receipts["r-2"] = &Receipt{ID: "r-2", UserID: "user-2"}
		})

		It("should return only the caller's receipts", func() {
			resp := authedRequest("GET", "/api/receipts", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			body := decodeBody(resp)
			records := body["data"].([]any)
			Expect(records).To(HaveLen(1))
		})
	})

	Describe("handleGetReceipt", func() {
		BeforeEach(func() {
			db.receipts["r-1"] = &Receipt{ID: "r-1", UserID: "user-1", Vendor: "Home Depot"}
			db.receipts["r-2"] = &Receipt{ID: "r-2", UserID: "user-2"}
		})

		It("should return the receipt", func() {
			resp := authedRequest("GET", "/api/receipts/r-1", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			body := decodeBody(resp)
			record := body["data"].(map[string]any)
			Expect(record["vendor"]).To(Equal("Home Depot"))
		})

		It("should hide another user's receipt", func() {
			resp := authedRequest("GET", "/api/receipts/r-2", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close()
		})
	})

	Describe("handleGetReceiptFile", func() {
		BeforeEach(func() {
			db.receipts["r-1"] = &Receipt{
				ID:          "r-1",
				UserID:      "user-1",
				Filename:    "r-1_receipt.jpg",
				ContentType: "image/jpeg",
			}
			storage.files["r-1_receipt.jpg"] = []byte("file content")
		})

		It("should return the file with its content type", func() {
			resp := authedRequest("GET", "/api/receipts/r-1/file", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			defer resp.Body.Close()

			Expect(resp.Header.Get("Content-Type")).To(Equal("image/jpeg"))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(Equal("file content"))
		})

		It("should return Not Found for a missing file", func() {
			resp := authedRequest("GET", "/api/receipts/nonexistent/file", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close()
		})
	})

	Describe("handleDeleteReceipt", func() {
		BeforeEach(func() {
			db.receipts["r-1"] = &Receipt{ID: "r-1", UserID: "user-1"}
		})

		It("should return status No Content", func() {
			resp := authedRequest("DELETE", "/api/receipts/r-1", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			resp.Body.Close()
			Expect(db.receipts).NotTo(HaveKey("r-1"))
		})
	})

	Describe("handleCreateCheckout", func() {
		When("billing is not configured", func() {
			It("should return status Service Unavailable", func() {
				data, err := json.Marshal(map[string]string{"plan": "pro"})
				Expect(err).NotTo(HaveOccurred())

				resp := authedRequest("POST", "/api/billing/checkout", "application/json", bytes.NewReader(data))
				Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
				resp.Body.Close()
			})
		})
	})

	Describe("handleBillingWebhook", func() {
		When("billing is not configured", func() {
			It("should return status Service Unavailable", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/billing/webhook", "application/json", bytes.NewBufferString("{}"))
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
				resp.Body.Close()
			})
		})
	})
})
