package extract

import (
	"context"
	"errors"
	"strings"
)

// Category is the user-facing classification of an extraction failure.
type Category string

const (
	CategoryProtected Category = "protected_document"
	CategoryEmpty     Category = "empty_document"
	CategoryOversized Category = "oversized_document"
	CategorySchema    Category = "schema_validation"
	CategoryTimeout   Category = "timeout"
	CategoryUnknown   Category = "unknown"
)

// userMessages maps each category to a short, actionable message.
// Raw diagnostic detail never leaks to the caller.
var userMessages = map[Category]string{
	CategoryProtected: "The document appears to be password-protected or corrupted. Please upload an unprotected copy.",
	CategoryEmpty:     "We couldn't find any text in the document. Scanned images aren't supported yet.",
	CategoryOversized: "The document is too large to process. Please upload a file under the size limit.",
	CategorySchema:    "We couldn't structure the document's contents. Please try a simpler layout.",
	CategoryTimeout:   "Processing took too long. Please try again.",
	CategoryUnknown:   "Something went wrong while processing the document. Please try again.",
}

// UserMessage returns the caller-safe message for a category.
func UserMessage(cat Category) string {
	if msg, ok := userMessages[cat]; ok {
		return msg
	}
	return userMessages[CategoryUnknown]
}

// Classify maps a raw extraction error onto a user-facing category.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	var xe *Error
	if errors.As(err, &xe) && xe.Category != "" && xe.Category != CategoryUnknown {
		return xe.Category
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "password") || strings.Contains(msg, "encrypted") || strings.Contains(msg, "corrupt"):
		return CategoryProtected
	case strings.Contains(msg, "no text") || strings.Contains(msg, "empty"):
		return CategoryEmpty
	case strings.Contains(msg, "too large") || strings.Contains(msg, "oversized") || strings.Contains(msg, "exceeds"):
		return CategoryOversized
	case strings.Contains(msg, "schema"):
		return CategorySchema
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return CategoryTimeout
	default:
		return CategoryUnknown
	}
}

// Retryable reports whether a failure in this category is worth another
// queue delivery. Permanent input problems go straight to dead-letter.
func Retryable(cat Category) bool {
	switch cat {
	case CategoryProtected, CategoryEmpty, CategoryOversized:
		return false
	default:
		return true
	}
}
