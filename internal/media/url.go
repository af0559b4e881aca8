// Package media translates stored media references into fetchable URLs.
package media

import (
	"fmt"
	"strings"
)

const DefaultRegion = "us-east-1"

// URLResolver converts object-storage URIs of the form s3://bucket/key into
// HTTPS URLs of the form https://{bucket}.s3.{region}.amazonaws.com/{key}.
// Anything that is not an s3:// URI passes through unchanged.
type URLResolver struct {
	region string
}

func NewURLResolver(region string) *URLResolver {
	if region == "" {
		region = DefaultRegion
	}
	return &URLResolver{region: region}
}

func (r *URLResolver) Resolve(location string) string {
	if location == "" {
		return ""
	}
	if !strings.HasPrefix(location, "s3://") {
		return location
	}

	rest := strings.TrimPrefix(location, "s3://")
	slash := strings.Index(rest, "/")
	if slash <= 0 || slash == len(rest)-1 {
		// Malformed s3 URI (no bucket or no key); leave it alone.
		return location
	}
	bucket := rest[:slash]
	key := rest[slash+1:]

	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, r.region, key)
}
