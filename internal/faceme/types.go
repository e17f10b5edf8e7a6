package faceme

// Features toggles optional processing on the service side, for example
// {"qualityCheck": true, "showDetail": true}.
type Features map[string]any

// DefaultEnrollmentFeatures returns a fresh copy of the features sent by
// Enroll when none are given.
func DefaultEnrollmentFeatures() Features {
	return Features{"showDetail": true}
}

// DefaultComparisonFeatures returns a fresh copy of the features sent by
// CompareImages when none are given.
func DefaultComparisonFeatures() Features {
	return Features{"qualityCheck": false, "showDetail": true}
}

// ImageMetadata identifies an enrolled image.
type ImageMetadata struct {
	ImageID string `json:"imageID"`
}

// SearchCriteria narrows a comparison against enrolled faces. Set ImageID for
// a 1:1 comparison by id and ReturnCount for a 1:N search.
type SearchCriteria struct {
	ImageID     string `json:"imageID,omitempty"`
	ReturnCount int    `json:"returnCount,omitempty"`
}

// FacesInfo describes the encoding of the two templates passed to
// CompareTemplates. Both templates must use the same feature type.
type FacesInfo struct {
	Face1FeatureType    int    `json:"face1FeatureType"`
	Face1FeatureSubType int    `json:"face1FeatureSubType"`
	Face1ByteOrder      string `json:"face1ByteOrder"`
	Face2FeatureType    int    `json:"face2FeatureType"`
	Face2FeatureSubType int    `json:"face2FeatureSubType"`
	Face2ByteOrder      string `json:"face2ByteOrder"`
}

// SpoofingDetail is the "detail" part of the anti-spoofing calls. Stage one
// uses Status, Still and Enable2Stage; stage two uses Dir and Previous.
type SpoofingDetail struct {
	PrecisionLevel string    `json:"precisionLevel,omitempty"`
	CameraInfo     string    `json:"cameraInfo,omitempty"`
	Status         []float64 `json:"status,omitempty"`
	Still          *int      `json:"still,omitempty"`
	Enable2Stage   *bool     `json:"enable2Stage,omitempty"`
	Dir            string    `json:"dir,omitempty"`
	Previous       *float64  `json:"previous,omitempty"`
}
