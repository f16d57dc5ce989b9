package zaber

import (
	"fmt"
	"strconv"
)

// Checksum returns the longitudinal redundancy check of body: the two's
// complement of the byte sum, modulo 256. body is the text between the
// start character and the colon.
func Checksum(body string) byte {
	var sum byte
	for i := 0; i < len(body); i++ {
		sum += body[i]
	}
	return -sum
}

func formatChecksum(body string) string {
	return fmt.Sprintf(":%02X", Checksum(body))
}

func verifyChecksum(body, hex string) bool {
	if len(hex) != 2 {
		return false
	}
	v, err := strconv.ParseUint(hex, 16, 8)
	if err != nil {
		return false
	}
	return byte(v) == Checksum(body)
}
