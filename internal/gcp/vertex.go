package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"cloud.google.com/go/vertexai/genai"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/Lllllllleong/intelligentdocumentflow/internal/models"
)

// --- OCR Model Prompts ---
const OCRSystemPrompt = "You are a document analysis engine. Your task is to read a scanned document (image or PDF) and return its textual content and form fields. You must output your response as a single valid JSON object."
const OCRUserPrompt = `Analyze the provided document and extract its content.

Follow these rules precisely:
1. Read every line of visible text, top to bottom, left to right. Join the lines with newline characters into a single "text" string.
2. Identify form-style key/value pairs (labels with an associated value, e.g. "Name: Jane Doe", table headers with single values, boxed fields). Collect them into a "keyValuePairs" object mapping the key text to the value text.
3. Do not invent content. If a value is illegible, omit the pair.
4. The final output MUST be a single valid JSON object with exactly two keys:
   - "text": string
   - "keyValuePairs": object of string to string

Example output format:
{
  "text": "INVOICE\nAcme Corp\nAmount Due: $50.00",
  "keyValuePairs": {
    "Amount Due": "$50.00"
  }
}`

// --- Summarizer Model Prompt ---
const SummarizerSystemPrompt = "You are a document summarization assistant. You produce brief, factual summaries of business and personal documents."

// SummaryPrompt renders the summarization request for a classified document.
func SummaryPrompt(category string, ocr *models.OCRResult) (string, error) {
	kvJSON, err := json.MarshalIndent(ocr.KeyValuePairs, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal key-value pairs: %w", err)
	}
	return fmt.Sprintf(`Please provide a concise summary of this %s document:

Text content:
%s

Key-value pairs:
%s

Please provide a brief, informative summary focusing on the key information and purpose of this document.`, category, ocr.Text, kvJSON), nil
}

// refusalPhrases flag model responses that declined the task; such responses
// must fail the stage rather than be persisted as results.
var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"as a large language model",
}

func isRefusal(content string) bool {
	lower := strings.ToLower(content)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// VertexClient holds the pre-configured generative models for the pipeline.
type VertexClient struct {
	OCRModel        *genai.GenerativeModel
	SummarizerModel *genai.GenerativeModel
	baseClient      *genai.Client
}

// NewVertexClient creates a new client holding all necessary models.
func NewVertexClient(ctx context.Context, projectID, region string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	// --- Configure the OCR model ---
	ocrModel := baseClient.GenerativeModel("gemini-1.5-pro")
	ocrModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(OCRSystemPrompt)},
	}
	ocrModel.GenerationConfig = genai.GenerationConfig{
		// Force JSON output; the extract handler parses this directly.
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}

	// --- Configure the summarizer model ---
	summarizerModel := baseClient.GenerativeModel("gemini-1.5-pro")
	summarizerModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(SummarizerSystemPrompt)},
	}
	summarizerModel.GenerationConfig = genai.GenerationConfig{
		MaxOutputTokens: genai.Ptr[int32](300),
		Temperature:     genai.Ptr[float32](0.3),
	}

	return &VertexClient{
		OCRModel:        ocrModel,
		SummarizerModel: summarizerModel,
		baseClient:      baseClient,
	}, nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}

// VertexOCREngine extracts text and key/value pairs from stored documents
// with the multimodal OCR model. PDF inputs are validated and page-capped
// before they are sent to the model.
type VertexOCREngine struct {
	vertex        *VertexClient
	storageClient *storage.Client
	maxPDFPages   int
}

// NewVertexOCREngine builds an OCR engine. maxPDFPages <= 0 disables the cap.
func NewVertexOCREngine(vertex *VertexClient, storageClient *storage.Client, maxPDFPages int) *VertexOCREngine {
	return &VertexOCREngine{vertex: vertex, storageClient: storageClient, maxPDFPages: maxPDFPages}
}

// AnalyzeDocument runs OCR over the object at gs://bucket/key.
func (e *VertexOCREngine) AnalyzeDocument(ctx context.Context, bucket, key string) (*models.OCRResult, error) {
	mimeType, err := mimeTypeForKey(key)
	if err != nil {
		return nil, err
	}
	if mimeType == "application/pdf" {
		if err := e.checkPDF(ctx, bucket, key); err != nil {
			return nil, err
		}
	}

	filePart := genai.FileData{
		MIMEType: mimeType,
		FileURI:  fmt.Sprintf("gs://%s/%s", bucket, key),
	}
	resp, err := e.vertex.OCRModel.GenerateContent(ctx, filePart, genai.Text(OCRUserPrompt))
	if err != nil {
		return nil, fmt.Errorf("failed to generate OCR content from gemini: %w", err)
	}

	content := extractText(resp)
	if isRefusal(content) {
		return nil, fmt.Errorf("gemini response indicates refusal for gs://%s/%s", bucket, key)
	}
	var result models.OCRResult
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return nil, fmt.Errorf("malformed OCR response: %w", err)
	}
	if result.KeyValuePairs == nil {
		result.KeyValuePairs = map[string]string{}
	}
	return &result, nil
}

// checkPDF downloads the object and validates it with pdfcpu, enforcing the
// page cap. A corrupt or oversized PDF fails the stage before any model call.
func (e *VertexOCREngine) checkPDF(ctx context.Context, bucket, key string) error {
	tempDir, err := os.MkdirTemp("", "ocr-precheck-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	localPath := filepath.Join(tempDir, "source.pdf")
	if err := e.download(ctx, bucket, key, localPath); err != nil {
		return err
	}

	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	if err := api.ValidateFile(localPath, cfg); err != nil {
		return fmt.Errorf("invalid PDF at gs://%s/%s: %w", bucket, key, err)
	}
	pageCount, err := api.PageCountFile(localPath)
	if err != nil {
		return fmt.Errorf("failed to get page count: %w", err)
	}
	if e.maxPDFPages > 0 && pageCount > e.maxPDFPages {
		return fmt.Errorf("PDF has %d pages, exceeding the %d page limit", pageCount, e.maxPDFPages)
	}
	slog.Debug("PDF precheck passed", "bucket", bucket, "key", key, "pages", pageCount)
	return nil
}

func (e *VertexOCREngine) download(ctx context.Context, bucket, key, destPath string) error {
	reader, err := e.storageClient.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", bucket, key, err)
	}
	defer reader.Close()
	localFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file at %s: %w", destPath, err)
	}
	defer localFile.Close()
	if _, err := io.Copy(localFile, reader); err != nil {
		return fmt.Errorf("failed to copy GCS object to local file: %w", err)
	}
	return nil
}

// VertexSummarizer produces natural-language summaries with the summarizer
// model.
type VertexSummarizer struct {
	vertex *VertexClient
}

// NewVertexSummarizer builds a summarizer backed by the Vertex client.
func NewVertexSummarizer(vertex *VertexClient) *VertexSummarizer {
	return &VertexSummarizer{vertex: vertex}
}

// Summarize returns a summary of the extracted document content.
func (s *VertexSummarizer) Summarize(ctx context.Context, category string, ocr *models.OCRResult) (string, error) {
	prompt, err := SummaryPrompt(category, ocr)
	if err != nil {
		return "", err
	}
	resp, err := s.vertex.SummarizerModel.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate summary from gemini: %w", err)
	}
	summary := extractText(resp)
	if summary == "" {
		return "", fmt.Errorf("empty summary response")
	}
	if isRefusal(summary) {
		return "", fmt.Errorf("gemini response indicates refusal to summarize")
	}
	return summary, nil
}

// extractText robustly concatenates the text parts of a model response.
func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(b.String())
}

// mimeTypeForKey maps a stored object's extension to the upload content type.
func mimeTypeForKey(key string) (string, error) {
	switch strings.ToLower(path.Ext(key)) {
	case ".pdf":
		return "application/pdf", nil
	case ".png":
		return "image/png", nil
	case ".jpg", ".jpeg":
		return "image/jpeg", nil
	default:
		return "", fmt.Errorf("object key %q has unsupported extension", key)
	}
}
