package geo

import "net/netip"

// Category tags returned by Classify alongside two-letter country codes.
const (
	Private = "PRIVATE"
	Local   = "LOCAL"
	Other   = "OTHER"
	IPv6    = "V6"
)

// Classify maps addr to a coarse country or category tag using only the
// first IPv4 octet. It is an approximation and must not be used as real
// geolocation. Every IPv6 address is tagged V6.
func Classify(addr netip.Addr) string {
	addr = addr.Unmap()
	if !addr.Is4() {
		return IPv6
	}
	switch o := addr.As4()[0]; {
	case o == 46 || o == 47:
		return "RU"
	case o >= 58 && o <= 61:
		return "CN"
	case o == 91:
		return "IN"
	case o == 185:
		return "IR"
	case o == 10 || o == 172 || o == 192:
		return Private
	case o == 127:
		return Local
	case o >= 1 && o <= 45:
		return "US"
	case o >= 128 && o <= 184:
		return "EU"
	default:
		return Other
	}
}

var labels = map[string]string{
	"CN":    "China",
	"RU":    "Russia",
	"IR":    "Iran",
	"US":    "United States",
	"EU":    "Europe",
	"IN":    "India",
	Private: "private network",
	Local:   "loopback",
	IPv6:    "IPv6",
	Other:   "other",
}

// Label returns a human-readable name for a tag.
func Label(tag string) string {
	if l, ok := labels[tag]; ok {
		return l
	}
	return tag
}

// Known reports whether tag can ever be produced by Classify.
func Known(tag string) bool {
	_, ok := labels[tag]
	return ok
}
