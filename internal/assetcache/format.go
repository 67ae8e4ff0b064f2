package assetcache

import (
	"mime"
	"net/url"
	"path"
	"strings"
)

// knownFormats are the extensions trusted when they appear on a URL path.
var knownFormats = map[string]struct{}{
	"usdz":    {},
	"usda":    {},
	"usdc":    {},
	"usd":     {},
	"reality": {},
	"glb":     {},
	"gltf":    {},
	"obj":     {},
	"fbx":     {},
	"stl":     {},
	"ply":     {},
}

var contentTypeFormats = map[string]string{
	"model/vnd.usdz+zip":  "usdz",
	"model/usd":           "usdz",
	"model/vnd.pixar.usd": "usdz",
	"model/vnd.reality":   "reality",
	"model/gltf-binary":   "glb",
	"model/gltf+json":     "gltf",
	"model/obj":           "obj",
	"model/stl":           "stl",
	"application/sla":     "stl",
}

// DetectFormat picks the asset format from the URL path suffix (query and
// fragment ignored), then the declared content type, then preferred.
func DetectFormat(sourceURL, contentType, preferred string) string {
	if u, err := url.Parse(sourceURL); err == nil {
		ext := strings.ToLower(strings.TrimPrefix(path.Ext(u.Path), "."))
		if _, ok := knownFormats[ext]; ok {
			return ext
		}
	}
	if contentType != "" {
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err == nil {
			if format := contentTypeFormats[strings.ToLower(mediaType)]; format != "" {
				return format
			}
		}
	}
	return strings.ToLower(strings.TrimSpace(preferred))
}
