package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Platform identifies a marketplace.
type Platform string

const (
	PlatformShopee Platform = "shopee"
	PlatformLazada Platform = "lazada"
	PlatformTiki   Platform = "tiki"
	PlatformAmazon Platform = "amazon"
)

// AllPlatforms lists every known marketplace in catalog order.
var AllPlatforms = []Platform{PlatformShopee, PlatformLazada, PlatformTiki, PlatformAmazon}

// ParsePlatform normalizes s and checks it against the known set.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllPlatforms {
		if p == known {
			return p, nil
		}
	}
	return "", eris.Errorf("unknown platform %q", s)
}
