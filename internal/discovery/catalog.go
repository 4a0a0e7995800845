package discovery

import (
	_ "embed"
	"fmt"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/product-scout/internal/model"
)

//go:embed platforms.yaml
var defaultCatalogYAML []byte

// PlatformInfo describes one marketplace.
type PlatformInfo struct {
	Name      model.Platform `yaml:"name"`
	Domains   []string       `yaml:"domains"`
	SearchURL string         `yaml:"search_url"`
	Supported bool           `yaml:"supported"`
}

// Catalog is the ordered set of known marketplaces.
type Catalog struct {
	Platforms []PlatformInfo `yaml:"platforms"`
}

// LoadCatalog parses a YAML catalog.
func LoadCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, eris.Wrap(err, "discovery: parse platform catalog")
	}
	for i, p := range c.Platforms {
		if _, err := model.ParsePlatform(string(p.Name)); err != nil {
			return nil, eris.Wrapf(err, "discovery: catalog entry %d", i)
		}
		if p.Supported && !strings.Contains(p.SearchURL, "{query}") {
			return nil, eris.Errorf("discovery: catalog entry %s: search_url lacks {query}", p.Name)
		}
	}
	return &c, nil
}

// DefaultCatalog returns the embedded catalog.
func DefaultCatalog() *Catalog {
	c, err := LoadCatalog(defaultCatalogYAML)
	if err != nil {
		panic(err)
	}
	return c
}

// Get returns the entry for p.
func (c *Catalog) Get(p model.Platform) (PlatformInfo, bool) {
	for _, info := range c.Platforms {
		if info.Name == p {
			return info, true
		}
	}
	return PlatformInfo{}, false
}

// Supported lists the platforms that can be searched, in catalog order.
func (c *Catalog) Supported() []model.Platform {
	var out []model.Platform
	for _, info := range c.Platforms {
		if info.Supported {
			out = append(out, info.Name)
		}
	}
	return out
}

// IsSupported reports whether p can be searched and crawled.
func (c *Catalog) IsSupported(p model.Platform) bool {
	info, ok := c.Get(p)
	return ok && info.Supported
}

// DetectPlatform maps a URL to its marketplace by host.
func (c *Catalog) DetectPlatform(rawURL string) (model.Platform, bool) {
	host := hostOf(rawURL)
	if host == "" {
		return "", false
	}
	for _, info := range c.Platforms {
		if matchesDomain(host, info.Domains) {
			return info.Name, true
		}
	}
	return "", false
}

// BelongsTo reports whether rawURL is hosted on platform p.
func (c *Catalog) BelongsTo(rawURL string, p model.Platform) bool {
	info, ok := c.Get(p)
	if !ok {
		return false
	}
	return matchesDomain(hostOf(rawURL), info.Domains)
}

// SearchLink builds the deterministic search URL for query on p.
func (c *Catalog) SearchLink(p model.Platform, query string) (string, error) {
	info, ok := c.Get(p)
	if !ok || !info.Supported {
		return "", eris.Errorf("discovery: no search template for %s", p)
	}
	return strings.ReplaceAll(info.SearchURL, "{query}", url.QueryEscape(strings.TrimSpace(query))), nil
}

// Resolution is the outcome of ResolvePlatforms.
type Resolution struct {
	Platforms   []model.Platform
	Removed     []model.Platform
	Substituted bool
	Notice      string
}

// ResolvePlatforms drops unsupported platforms from requested. An empty
// request resolves to every supported platform. When nothing requested is
// supported, strict mode fails with UnsupportedPlatform; otherwise all
// supported platforms are substituted and Notice says so.
func (c *Catalog) ResolvePlatforms(requested []model.Platform, strict bool) (*Resolution, error) {
	supported := c.Supported()
	if len(requested) == 0 {
		return &Resolution{Platforms: supported}, nil
	}

	res := &Resolution{}
	seen := make(map[model.Platform]bool)
	for _, p := range requested {
		if seen[p] {
			continue
		}
		seen[p] = true
		if c.IsSupported(p) {
			res.Platforms = append(res.Platforms, p)
		} else {
			res.Removed = append(res.Removed, p)
		}
	}

	if len(res.Removed) == 0 {
		return res, nil
	}
	if len(res.Platforms) == 0 {
		if strict || len(supported) == 0 {
			return nil, model.NewStageError(model.ErrUnsupportedPlatform,
				fmt.Sprintf("%s is not supported for product discovery", joinPlatforms(res.Removed)), nil)
		}
		res.Platforms = supported
		res.Substituted = true
		res.Notice = fmt.Sprintf("%s is not supported yet; searched %s instead.",
			joinPlatforms(res.Removed), joinPlatforms(supported))
		return res, nil
	}
	res.Notice = fmt.Sprintf("%s is not supported yet and was skipped.", joinPlatforms(res.Removed))
	return res, nil
}

func joinPlatforms(ps []model.Platform) string {
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = string(p)
	}
	return strings.Join(names, ", ")
}

func hostOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func matchesDomain(host string, domains []string) bool {
	if host == "" {
		return false
	}
	for _, d := range domains {
		d = strings.ToLower(d)
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
