package errors

// userFriendlyMessages maps a tool failure reason keyword to the message
// surfaced to the end user, per spec §7/§8 (S3: "user-facing message from
// USER_FRIENDLY_MESSAGES[PAYMENT_FAILED]"). Reasons with no entry fall back
// to a generic message rather than leaking the raw keyword.
var userFriendlyMessages = map[string]string{
	"PAYMENT_FAILED":     "Your payment could not be processed. No charge was made.",
	"ROOM_UNAVAILABLE":   "That reservation is no longer available.",
	"INVENTORY_SHORTAGE": "One or more items are out of stock.",
	"TIMEOUT":            "The request took too long to complete and was rolled back.",
}

const genericFailureMessage = "Something went wrong completing your request. No partial charges were kept."

// UserFriendlyMessage returns the end-user-facing message for a tool
// failure reason keyword, falling back to a generic message for any
// keyword not in the table.
func UserFriendlyMessage(reason string) string {
	if msg, ok := userFriendlyMessages[reason]; ok {
		return msg
	}
	return genericFailureMessage
}
