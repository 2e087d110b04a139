package rfcomm

import "strings"

// SPPUUID is the Serial Port Profile service class.
const SPPUUID = "00001101-0000-1000-8000-00805f9b34fb"

// ValidMAC reports whether s is a colon-separated 48-bit Bluetooth address.
func ValidMAC(s string) bool {
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return false
	}
	for _, p := range parts {
		if len(p) != 2 || !isHex(p[0]) || !isHex(p[1]) {
			return false
		}
	}
	return true
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}
