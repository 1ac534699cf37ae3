package tilecache

// Format is an image format tiles can be requested in.
type Format struct {
	Name      string
	MimeType  string
	Extension string
}

func builtinFormats() map[string]*Format {
	formats := []*Format{
		{Name: "PNG", MimeType: "image/png", Extension: "png"},
		{Name: "JPEG", MimeType: "image/jpeg", Extension: "jpg"},
		{Name: "WEBP", MimeType: "image/webp", Extension: "webp"},
		{Name: "MVT", MimeType: "application/vnd.mapbox-vector-tile", Extension: "pbf"},
	}
	out := make(map[string]*Format, len(formats))
	for _, f := range formats {
		out[f.Name] = f
	}
	return out
}

// formatByExtension finds a format by file extension or MIME type.
func (cfg *Config) formatByExtension(ext string) *Format {
	if ext == "jpeg" {
		ext = "jpg"
	}
	for _, f := range cfg.Formats {
		if f.Extension == ext || f.MimeType == ext {
			return f
		}
	}
	return nil
}
