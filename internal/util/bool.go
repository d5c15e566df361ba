package util

// FalseIfNil returns false for a nil pointer, the pointed-to value otherwise.
func FalseIfNil(b *bool) bool {
	if b == nil {
		return false
	}
	return *b
}
