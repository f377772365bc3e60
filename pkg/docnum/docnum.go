// Package docnum generates human-facing document numbers such as
// ADM-20250314-9F2C1A.
package docnum

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	PrefixAdmission = "ADM"
	PrefixBill      = "IPB"
	PrefixClaim     = "CLM"
)

const suffixBytes = 3

var pattern = regexp.MustCompile(`^[A-Z]{3}-\d{8}-[0-9A-F]{6}$`)

// New returns <prefix>-<YYYYMMDD>-<6 random hex digits> for the date of t.
func New(prefix string, t time.Time) string {
	b := make([]byte, suffixBytes)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand only fails when the OS entropy source is gone.
		panic(fmt.Sprintf("docnum: read random: %v", err))
	}
	return fmt.Sprintf("%s-%s-%s", prefix, t.Format("20060102"), strings.ToUpper(hex.EncodeToString(b)))
}

// Valid reports whether s has the shape produced by New.
func Valid(s string) bool {
	return pattern.MatchString(s)
}
