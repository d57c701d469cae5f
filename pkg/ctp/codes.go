package ctp

import (
	"math"

	"github.com/jicewarwick/OpenUTS/pkg/uts"
)

// Gateway error codes for login rejections, per the vendor API documentation.
const (
	CodeOK                   = 0
	CodeWrongUserOrPassword  = 3
	CodeWeakPassword         = 131
	CodeFirstLoginMustChange = 140
	CodePasswordExpired      = 141
	CodeIPLimited            = 143
	CodeIPBanned             = 144
)

// ClassifyLoginCode maps a gateway login error code onto the closed login
// failure taxonomy.
func ClassifyLoginCode(code int) uts.LoginFailure {
	switch code {
	case CodeWrongUserOrPassword:
		return uts.LoginWrongCredentials
	case CodeWeakPassword:
		return uts.LoginWeakPassword
	case CodeFirstLoginMustChange:
		return uts.LoginFirstMustChangePassword
	case CodePasswordExpired:
		return uts.LoginPasswordExpired
	case CodeIPLimited:
		return uts.LoginIPLimited
	case CodeIPBanned:
		return uts.LoginIPBanned
	default:
		return uts.LoginUnknown
	}
}

// NoPrice is the sentinel the wire uses for price fields the venue did not set.
const NoPrice = math.MaxFloat64

// SanitizePrice maps the wire sentinel (and NaN) to zero.
func SanitizePrice(v float64) float64 {
	if v == NoPrice || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
