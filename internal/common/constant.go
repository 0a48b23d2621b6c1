package common

// KioskTokenHeaderName is the HTTP header carrying the kiosk-signed JWT on
// polling protocol requests.
const KioskTokenHeaderName = "Authorization"

// StaffTokenHeaderName is the HTTP header carrying the static staff API token.
const StaffTokenHeaderName = "X-Staff-Token"
