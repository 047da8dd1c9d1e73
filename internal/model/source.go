package model

import "strings"

// AudioSource is what the playback medium loads.
// Data holds the cached payload; when empty the medium fetches URL itself.
type AudioSource struct {
	URL  string
	Data []byte
}

// IsDataURL reports whether u carries its payload inline.
func IsDataURL(u string) bool {
	return strings.HasPrefix(u, "data:")
}

// Local reports whether the source can be played without network access.
func (s AudioSource) Local() bool {
	return len(s.Data) > 0 || IsDataURL(s.URL)
}
