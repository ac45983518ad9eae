package ocr

import (
	"context"
	"fmt"
	"strings"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"

	"kpc/logger"
)

// VisionClient recognizes text through Google Cloud Vision document text detection
type VisionClient struct {
	client *vision.ImageAnnotatorClient
	hints  []string
	log    *logger.Logger
}

// NewVisionClient creates a Cloud Vision client. An empty credentials file
// falls back to application default credentials.
func NewVisionClient(ctx context.Context, credentialsFile, lang string, log *logger.Logger) (*VisionClient, error) {
	if log == nil {
		log = logger.Nop()
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}
	return &VisionClient{
		client: client,
		hints:  LanguageHints(lang),
		log:    log.With("service", "ocr.VisionClient"),
	}, nil
}

// Name identifies the backend
func (v *VisionClient) Name() string { return "vision" }

// Recognize runs DOCUMENT_TEXT_DETECTION over one image
func (v *VisionClient) Recognize(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", nil
	}
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	req := &visionpb.AnnotateImageRequest{
		Image: &visionpb.Image{Content: image},
		Features: []*visionpb.Feature{
			{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
		},
		ImageContext: &visionpb.ImageContext{LanguageHints: v.hints},
	}
	resp, err := v.client.BatchAnnotateImages(ctx, &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{req},
	})
	if err != nil {
		return "", fmt.Errorf("vision BatchAnnotateImages: %w", err)
	}
	if resp == nil || len(resp.Responses) == 0 || resp.Responses[0] == nil {
		return "", nil
	}
	r0 := resp.Responses[0]
	if r0.Error != nil && r0.Error.Message != "" {
		return "", fmt.Errorf("vision annotate error: %s", r0.Error.Message)
	}
	if r0.FullTextAnnotation == nil {
		return "", nil
	}
	return r0.FullTextAnnotation.Text, nil
}

// Close releases the underlying gRPC connection
func (v *VisionClient) Close() error {
	return v.client.Close()
}

// LanguageHints converts a tesseract language set such as "sqi+eng" to
// BCP-47 hints understood by Cloud Vision
func LanguageHints(lang string) []string {
	codes := map[string]string{"sqi": "sq", "eng": "en", "srp": "sr", "deu": "de"}
	var hints []string
	for _, l := range strings.Split(lang, "+") {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if c, ok := codes[l]; ok {
			l = c
		}
		hints = append(hints, l)
	}
	return hints
}
