package faceme

import (
	"context"
	"fmt"
	"net/http"
)

// Operation names, as reported in logs and OperationError.
const (
	OpHealthCheck         = "health_check"
	OpEngineStatus        = "engine_status"
	OpEnroll              = "enrollment"
	OpDeleteEnrollment    = "delete_enrollment"
	OpCompareImages       = "compare_images"
	OpCompareTemplates    = "compare_templates"
	OpSearchFaces         = "search_faces"
	OpCompareByID         = "compare_by_id"
	OpCheckSpoofing       = "spoofing_check"
	OpCheckSpoofingStage2 = "spoofing_check_second_stage"
	OpCheckQuality        = "quality_check"
)

var (
	opHealthCheck         = operation{OpHealthCheck, http.MethodGet, "/health", decodeHealth}
	opEngineStatus        = operation{OpEngineStatus, http.MethodPost, "/service/faceme/status", decodeJSON}
	opEnroll              = operation{OpEnroll, http.MethodPost, "/records", decodeJSON}
	opDeleteEnrollment    = operation{OpDeleteEnrollment, http.MethodPost, "/withdraw", decodeJSON}
	opCompareImages       = operation{OpCompareImages, http.MethodPost, "/comparison", decodeJSON}
	opCompareTemplates    = operation{OpCompareTemplates, http.MethodPost, "/face/compare11", decodeJSON}
	opSearchFaces         = operation{OpSearchFaces, http.MethodPost, "/comparison", decodeJSON}
	opCompareByID         = operation{OpCompareByID, http.MethodPost, "/comparison", decodeJSON}
	opCheckSpoofing       = operation{OpCheckSpoofing, http.MethodPost, "/spoofingcheck", decodeMultipart}
	opCheckSpoofingStage2 = operation{OpCheckSpoofingStage2, http.MethodPost, "/spoofingcheckV2", decodeMultipart}
	opCheckQuality        = operation{OpCheckQuality, http.MethodPost, "/faceimagequalitycheck", decodeJSON}
)

// HealthCheck asks the load-balancer health endpoint whether the server is
// up. Any body other than HealthyBody yields ErrServiceUnhealthy.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.call(ctx, opHealthCheck, nil)
	return err
}

// EngineStatus reports the engine setup status.
func (c *Client) EngineStatus(ctx context.Context) (*Result, error) {
	return c.call(ctx, opEngineStatus, nil)
}

// Enroll inserts the face found in the image at imagePath under imageID.
// PNG, BMP and JPEG images are accepted. A nil features selects
// DefaultEnrollmentFeatures.
func (c *Client) Enroll(ctx context.Context, imageID, imagePath string, features Features) (*Result, error) {
	if features == nil {
		features = DefaultEnrollmentFeatures()
	}
	return c.call(ctx, opEnroll, func(r *Request) error {
		if err := r.addFile(c.fs, "image", imagePath, contentTypeJPEG); err != nil {
			return err
		}
		if err := r.addJSON("imageMetadata", ImageMetadata{ImageID: imageID}); err != nil {
			return err
		}
		return r.addJSON("features", features)
	})
}

// DeleteEnrollment removes a previously enrolled face record.
func (c *Client) DeleteEnrollment(ctx context.Context, imageID string) (*Result, error) {
	return c.call(ctx, opDeleteEnrollment, func(r *Request) error {
		return r.setJSONBody(ImageMetadata{ImageID: imageID})
	})
}

// CompareImages compares the similarity of the faces in two images. A nil
// features selects DefaultComparisonFeatures.
func (c *Client) CompareImages(ctx context.Context, image1Path, image2Path string, features Features) (*Result, error) {
	if features == nil {
		features = DefaultComparisonFeatures()
	}
	return c.call(ctx, opCompareImages, func(r *Request) error {
		if err := r.addFile(c.fs, "image1", image1Path, contentTypeJPEG); err != nil {
			return err
		}
		if err := r.addFile(c.fs, "image2", image2Path, contentTypeJPEG); err != nil {
			return err
		}
		return r.addJSON("features", features)
	})
}

// CompareTemplates compares two faces from their binary templates.
// facesInfo is usually a FacesInfo; the service rejects templates of
// different feature types.
func (c *Client) CompareTemplates(ctx context.Context, face1TemplatePath, face2TemplatePath string, facesInfo any) (*Result, error) {
	return c.call(ctx, opCompareTemplates, func(r *Request) error {
		if err := r.addFile(c.fs, "face1Template", face1TemplatePath, contentTypeOctetStream); err != nil {
			return err
		}
		if err := r.addFile(c.fs, "face2Template", face2TemplatePath, contentTypeOctetStream); err != nil {
			return err
		}
		return r.addJSON("facesInfo", facesInfo)
	})
}

// SearchFaces runs a 1:N search of the face in imagePath against the
// enrolled dataset.
func (c *Client) SearchFaces(ctx context.Context, imagePath string, features Features, searchCriteria any) (*Result, error) {
	return c.call(ctx, opSearchFaces, func(r *Request) error {
		if err := r.addFile(c.fs, "image1", imagePath, contentTypeJPEG); err != nil {
			return err
		}
		if err := r.addJSON("features", features); err != nil {
			return err
		}
		return r.addJSON("searchCriteria", searchCriteria)
	})
}

// CompareByID compares the face in imagePath with one enrolled image id,
// usually given as SearchCriteria{ImageID: id}. The JSON parts go before
// the image on the wire.
func (c *Client) CompareByID(ctx context.Context, imagePath string, searchCriteria any, features Features) (*Result, error) {
	return c.call(ctx, opCompareByID, func(r *Request) error {
		if err := r.addJSON("features", features); err != nil {
			return err
		}
		if err := r.addJSON("searchCriteria", searchCriteria); err != nil {
			return err
		}
		return r.addFile(c.fs, "image1", imagePath, contentTypeJPEG)
	})
}

// CheckSpoofing verifies that the images show a live face, without user
// interaction. The Result is Empty when the service replied without parts.
func (c *Client) CheckSpoofing(ctx context.Context, imagePaths []string, detail any) (*Result, error) {
	return c.call(ctx, opCheckSpoofing, spoofingParts(c, imagePaths, detail))
}

// CheckSpoofingSecondStage is the interactive second stage of CheckSpoofing.
func (c *Client) CheckSpoofingSecondStage(ctx context.Context, imagePaths []string, detail any) (*Result, error) {
	return c.call(ctx, opCheckSpoofingStage2, spoofingParts(c, imagePaths, detail))
}

func spoofingParts(c *Client, imagePaths []string, detail any) func(*Request) error {
	return func(r *Request) error {
		if err := r.addJSON("detail", detail); err != nil {
			return err
		}
		for i, path := range imagePaths {
			if err := r.addFile(c.fs, fmt.Sprintf("image%d", i+1), path, contentTypeJPEG); err != nil {
				return err
			}
		}
		return nil
	}
}

// CheckQuality checks the quality of the face image at imagePath.
func (c *Client) CheckQuality(ctx context.Context, imagePath string, features Features) (*Result, error) {
	return c.call(ctx, opCheckQuality, func(r *Request) error {
		if err := r.addFile(c.fs, "image", imagePath, contentTypeJPEG); err != nil {
			return err
		}
		return r.addJSON("features", features)
	})
}
