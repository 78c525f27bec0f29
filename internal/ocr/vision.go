package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"

	"apflow/internal/logger"
	"github.com/rs/zerolog"
)

const (
	maxPDFSizeBytes = 20 * 1024 * 1024
	requestTimeout  = 120 * time.Second
)

// VisionService recognizes text with the Google Cloud Vision API.
type VisionService struct {
	client *vision.ImageAnnotatorClient
	opts   Options
	log    zerolog.Logger
}

// NewVisionService creates a Vision-backed OCR service. Credentials come
// from GOOGLE_CREDENTIALS (inline JSON), GOOGLE_APPLICATION_CREDENTIALS
// (file path), or application default credentials, in that order.
func NewVisionService(ctx context.Context, opts Options) (*VisionService, error) {
	const op = "ocr.NewVisionService"

	var clientOpts []option.ClientOption

	if credJSON := os.Getenv("GOOGLE_CREDENTIALS"); credJSON != "" {
		clientOpts = append(clientOpts, option.WithCredentialsJSON([]byte(credJSON)))
	} else if credFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credFile != "" {
		if _, err := os.Stat(credFile); err != nil {
			return nil, NewOCRError(op, ErrMissingCredentials,
				fmt.Sprintf("credentials file not found: %s", credFile))
		}
		clientOpts = append(clientOpts, option.WithCredentialsFile(credFile))
	}

	client, err := vision.NewImageAnnotatorClient(ctx, clientOpts...)
	if err != nil {
		return nil, WrapOCRError(op, err, "failed to create Vision API client")
	}

	if opts.MinTextLen <= 0 {
		opts.MinTextLen = 40
	}
	if len(opts.LanguageHints) == 0 {
		opts.LanguageHints = []string{"en", "fil"}
	}

	return &VisionService{
		client: client,
		opts:   opts,
		log:    logger.WithComponent("ocr"),
	}, nil
}

// Text dispatches on mime type. Image and PDF payloads are recognized;
// anything else returns empty text so the caller can skip the document.
func (s *VisionService) Text(ctx context.Context, data []byte, mimeType string) (string, error) {
	const op = "ocr.Text"

	if len(data) == 0 {
		return "", NewOCRError(op, ErrEmptyDocument, "empty file content")
	}

	mt := strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case strings.HasPrefix(mt, "image/"):
		return s.imageText(ctx, data)
	case mt == "application/pdf":
		return s.pdfText(ctx, data)
	default:
		s.log.Debug().Str("mime_type", mimeType).Msg("unsupported mime type, skipping OCR")
		return "", nil
	}
}

// imageText runs document text detection with language hints. Short
// results are retried with plain text detection, which handles faded
// thermal receipts better than the layout-aware model.
func (s *VisionService) imageText(ctx context.Context, data []byte) (string, error) {
	const op = "ocr.imageText"

	text, err := s.annotateImage(ctx, data, visionpb.Feature_DOCUMENT_TEXT_DETECTION)
	if err != nil {
		return "", WrapOCRError(op, err, "document text detection failed")
	}

	if len(strings.TrimSpace(text)) < s.opts.MinTextLen {
		s.log.Debug().
			Int("text_length", len(text)).
			Int("min_text_len", s.opts.MinTextLen).
			Msg("short OCR result, retrying with plain text detection")

		retry, retryErr := s.annotateImage(ctx, data, visionpb.Feature_TEXT_DETECTION)
		if retryErr == nil && len(strings.TrimSpace(retry)) > len(strings.TrimSpace(text)) {
			return retry, nil
		}
	}

	return text, nil
}

func (s *VisionService) annotateImage(ctx context.Context, data []byte, feature visionpb.Feature_Type) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: data},
				Features: []*visionpb.Feature{
					{Type: feature},
				},
				ImageContext: &visionpb.ImageContext{
					LanguageHints: s.opts.LanguageHints,
				},
			},
		},
	}

	resp, err := s.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		if ctx.Err() == context.Canceled {
			return "", ErrContextCanceled
		}
		return "", err
	}
	if len(resp.Responses) == 0 {
		return "", ErrOCRFailed
	}

	r := resp.Responses[0]
	if r.Error != nil {
		return "", fmt.Errorf("%w: %s", ErrOCRFailed, r.Error.Message)
	}
	if r.FullTextAnnotation != nil {
		return r.FullTextAnnotation.Text, nil
	}
	if len(r.TextAnnotations) > 0 {
		return r.TextAnnotations[0].Description, nil
	}
	return "", nil
}

// pdfText recognizes a PDF synchronously with inline content. The Vision
// API caps this path at 5 pages and 20MB, which covers the scanned bills
// this pipeline sees.
func (s *VisionService) pdfText(ctx context.Context, data []byte) (string, error) {
	const op = "ocr.pdfText"

	if len(data) > maxPDFSizeBytes {
		return "", NewOCRError(op, ErrPDFTooLarge,
			fmt.Sprintf("file size %d bytes exceeds %d byte limit", len(data), maxPDFSizeBytes))
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		return "", NewOCRError(op, ErrInvalidPDF, "file does not start with PDF header")
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := s.client.BatchAnnotateFiles(ctx, s.pdfRequest(data))
	if err != nil {
		if ctx.Err() == context.Canceled {
			return "", NewOCRError(op, ErrContextCanceled, "OCR canceled")
		}
		return "", WrapOCRError(op, err, "batch file annotation failed")
	}
	if len(resp.Responses) == 0 {
		return "", NewOCRError(op, ErrOCRFailed, "no response from Vision API")
	}

	fileResp := resp.Responses[0]
	if fileResp.Error != nil {
		return "", NewOCRError(op, ErrOCRFailed, fileResp.Error.Message)
	}

	var sb strings.Builder
	for i, page := range fileResp.Responses {
		if page.Error != nil {
			s.log.Warn().Int("page", i+1).Str("error", page.Error.Message).Msg("page annotation failed")
			continue
		}
		if page.FullTextAnnotation == nil {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(page.FullTextAnnotation.Text)
	}

	return sb.String(), nil
}

func (s *VisionService) pdfRequest(data []byte) *visionpb.BatchAnnotateFilesRequest {
	return &visionpb.BatchAnnotateFilesRequest{
		Requests: []*visionpb.AnnotateFileRequest{
			{
				InputConfig: &visionpb.InputConfig{
					Content:  data,
					MimeType: "application/pdf",
				},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
				},
				ImageContext: &visionpb.ImageContext{
					LanguageHints: s.opts.LanguageHints,
				},
				// Pages stays unset: the API reads the first 5 pages
				// when no pages are given, and an explicit page number
				// past the end of the file fails the whole request.
				Pages: nil,
			},
		},
	}
}

// Close releases the Vision API client.
func (s *VisionService) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
