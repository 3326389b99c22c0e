package models

// StreamInfo describes how to play an asset. Created per playback request
// and never cached, since playback URLs and DRM material are short-lived.
type StreamInfo struct {
	URL            string `json:"url"`
	Protocol       string `json:"protocol"`
	DRMSystem      string `json:"drmSystem"`
	DRMLicenseURL  string `json:"drmLicenseUrl"`
	DRMCertificate string `json:"drmCertificate"`
}
