package fetch

import (
	"net/http"
	"strings"
)

// Classification is the six-way decision spec §4.D classifies every
// outbound request into.
type Classification int

const (
	ClassNonGET Classification = iota
	ClassCacheableAPI
	ClassOfflineEligibleAPI
	ClassCriticalOffline
	ClassStaticAsset
	ClassNavigation
)

var criticalPrefixes = []string{"/api/pos/sales", "/api/products/barcode/"}
var cacheablePrefixes = []string{"/api/products", "/api/stores", "/api/inventory"}
var offlineEligiblePrefixes = []string{"/api/sales", "/api/inventory", "/api/products", "/api/stores"}

// Classify implements spec §4.D's classification table. Critical
// offline endpoints are checked before the GET/non-GET split since the
// table marks that row "GET/POST" — every other row only applies to
// GET requests.
func Classify(req *http.Request) Classification {
	path := req.URL.Path
	if hasAnyPrefix(path, criticalPrefixes) {
		return ClassCriticalOffline
	}
	if req.Method != http.MethodGet {
		return ClassNonGET
	}
	if hasAnyPrefix(path, cacheablePrefixes) {
		return ClassCacheableAPI
	}
	if hasAnyPrefix(path, offlineEligiblePrefixes) {
		return ClassOfflineEligibleAPI
	}
	if strings.HasPrefix(path, "/assets/") || strings.HasPrefix(path, "/src/") {
		return ClassStaticAsset
	}
	if strings.Contains(req.Header.Get("Accept"), "text/html") {
		return ClassNavigation
	}
	return ClassOfflineEligibleAPI
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
