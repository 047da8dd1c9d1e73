package audio

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
)

// Supported container formats.
const (
	formatWAV = "wav"
	formatOGG = "ogg"
	formatMP3 = "mp3"
)

// detectFormat picks a decoder from the payload's magic bytes, then its
// content type, then the extension of name. It returns "" when unknown.
func detectFormat(name, contentType string, data []byte) string {
	switch {
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return formatWAV
	case bytes.HasPrefix(data, []byte("OggS")):
		return formatOGG
	case bytes.HasPrefix(data, []byte("ID3")):
		return formatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return formatMP3
	}

	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mediaType {
		case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
			return formatWAV
		case "audio/ogg", "application/ogg", "audio/vorbis":
			return formatOGG
		case "audio/mpeg", "audio/mp3", "audio/mpeg3":
			return formatMP3
		}
	}

	p := name
	if u, err := url.Parse(name); err == nil && u.Path != "" {
		p = u.Path
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".wav":
		return formatWAV
	case ".ogg", ".oga":
		return formatOGG
	case ".mp3":
		return formatMP3
	}
	return ""
}

// decode reads the whole payload into a buffer.
func decode(format string, data []byte) (*beep.Buffer, error) {
	rc := io.NopCloser(bytes.NewReader(data))

	var (
		streamer beep.StreamSeekCloser
		f        beep.Format
		err      error
	)
	switch format {
	case formatWAV:
		streamer, f, err = wav.Decode(rc)
	case formatOGG:
		streamer, f, err = vorbis.Decode(rc)
	case formatMP3:
		streamer, f, err = mp3.Decode(rc)
	default:
		return nil, fmt.Errorf("unsupported audio format: %s", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", format, err)
	}
	defer func() { _ = streamer.Close() }()

	buf := beep.NewBuffer(f)
	buf.Append(streamer)
	if err := streamer.Err(); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", format, err)
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("%s stream has no samples", format)
	}
	return buf, nil
}

// localFile returns the filesystem path for file:// URLs and absolute paths.
func localFile(src string) (string, bool) {
	if strings.HasPrefix(src, "file://") {
		u, err := url.Parse(src)
		if err != nil || u.Path == "" {
			return "", false
		}
		return u.Path, true
	}
	if filepath.IsAbs(src) {
		return src, true
	}
	return "", false
}

var errMalformedDataURL = errors.New("malformed data URL")

// parseDataURL decodes a data: URL into its payload and media type.
func parseDataURL(u string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(u, "data:")
	if !ok {
		return nil, "", errMalformedDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", errMalformedDataURL
	}

	isBase64 := false
	if m, found := strings.CutSuffix(meta, ";base64"); found {
		meta = m
		isBase64 = true
	}

	if !isBase64 {
		s, err := url.PathUnescape(payload)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", errMalformedDataURL, err)
		}
		return []byte(s), meta, nil
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// Some encoders drop padding.
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", errMalformedDataURL, err)
		}
	}
	return data, meta, nil
}
